package item

import (
	"time"
)

// WorkItem is one input row to be fetched, rendered and harvested for attachments.
type WorkItem struct {
	Row   int    `json:"row"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// AttachmentResult is the terminal record of one attachment download.
type AttachmentResult struct {
	Row      int    `json:"-"`
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Path     string `json:"path,omitempty"`
	Bytes    int64  `json:"bytes"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// OK reports whether the attachment landed on disk.
func (r AttachmentResult) OK() bool { return r.Err == nil && r.Path != "" }

// Outcome is the single terminal record produced for each WorkItem.
type Outcome struct {
	Row             int                `json:"row"`
	URL             string             `json:"url"`
	Title           string             `json:"title"`
	Success         bool               `json:"success"`
	AttachmentCount int                `json:"attachment_count"`
	DocumentPath    string             `json:"document_path,omitempty"`
	Pages           int                `json:"pages,omitempty"`
	Encoding        string             `json:"encoding,omitempty"`
	FetchRetries    int                `json:"fetch_retries"`
	Degraded        bool               `json:"degraded,omitempty"`
	Resumed         bool               `json:"resumed,omitempty"`
	Kind            Kind               `json:"kind,omitempty"`
	Err             error              `json:"-"`
	Attachments     []AttachmentResult `json:"attachments,omitempty"`
	Started         time.Time          `json:"started"`
	Finished        time.Time          `json:"finished"`
}

// Duration is the wall time spent on the item.
func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Finished.Before(o.Started) {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// FailedAttachments returns downloads that did not complete.
func (o Outcome) FailedAttachments() []AttachmentResult {
	var out []AttachmentResult
	for _, a := range o.Attachments {
		if !a.OK() {
			out = append(out, a)
		}
	}
	return out
}
