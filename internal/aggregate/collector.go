// Package aggregate merges per-row page outcomes with attachment downloads
// that finish on their own schedule, and returns them in input order.
package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyperifyio/goarchive/internal/item"
)

type entry struct {
	outcome     item.Outcome
	put         bool
	attachments []item.AttachmentResult
}

// Collector is safe for concurrent use by page workers and download workers.
type Collector struct {
	mu       sync.Mutex
	rows     map[int]*entry
	rejected []item.Outcome
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{rows: make(map[int]*entry)}
}

// Start reserves the slot for it. It returns false when the row index was
// already started; the caller then records the duplicate with Reject.
func (c *Collector) Start(it item.WorkItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[it.Row]; ok {
		return false
	}
	c.rows[it.Row] = &entry{outcome: item.Outcome{Row: it.Row, URL: it.URL, Title: it.Title}}
	return true
}

// Reject records a failed outcome for an item that never got a slot.
func (c *Collector) Reject(it item.WorkItem, kind item.Kind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, item.Outcome{Row: it.Row, URL: it.URL, Title: it.Title, Kind: kind, Err: err})
}

// Put stores the page outcome for its row. Attachments already folded in are
// kept. A second Put for the same row is ignored and reported.
func (c *Collector) Put(o item.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.rows[o.Row]
	if !ok {
		e = &entry{}
		c.rows[o.Row] = e
	}
	if e.put {
		return fmt.Errorf("row %d: outcome already recorded", o.Row)
	}
	e.put = true
	e.outcome = o
	return nil
}

// Attach folds a finished download into its row.
func (c *Collector) Attach(r item.AttachmentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.rows[r.Row]
	if !ok {
		e = &entry{outcome: item.Outcome{Row: r.Row}}
		c.rows[r.Row] = e
	}
	e.attachments = append(e.attachments, r)
}

// has reports whether a final outcome was recorded for row.
func (c *Collector) has(row int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.rows[row]
	return ok && e.put
}

// Finalize returns one outcome per started row plus rejected duplicates,
// sorted by row. AttachmentCount counts completed downloads; failed ones stay
// itemized in Attachments.
func (c *Collector) Finalize() []item.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]item.Outcome, 0, len(c.rows)+len(c.rejected))
	for _, e := range c.rows {
		o := e.outcome
		atts := append(append([]item.AttachmentResult(nil), o.Attachments...), e.attachments...)
		sort.SliceStable(atts, func(i, j int) bool { return atts[i].Index < atts[j].Index })
		o.Attachments = atts
		// Resumed rows carry the count recorded by the earlier run.
		if !o.Resumed || len(atts) > 0 {
			o.AttachmentCount = 0
			for _, a := range atts {
				if a.OK() {
					o.AttachmentCount++
				}
			}
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	for _, r := range c.rejected {
		i := sort.Search(len(out), func(i int) bool { return out[i].Row > r.Row })
		out = append(out, item.Outcome{})
		copy(out[i+1:], out[i:])
		out[i] = r
	}
	return out
}

// Stats summarizes a finalized run.
type Stats struct {
	Total              int `json:"total"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	Resumed            int `json:"resumed"`
	Attachments        int `json:"attachments"`
	AttachmentFailures int `json:"attachment_failures"`
}

// Summarize counts outcomes.
func Summarize(outcomes []item.Outcome) Stats {
	var s Stats
	s.Total = len(outcomes)
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if o.Resumed {
			s.Resumed++
		}
		s.Attachments += o.AttachmentCount
		s.AttachmentFailures += len(o.FailedAttachments())
	}
	return s
}
