package app

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperifyio/goarchive/internal/aggregate"
	"github.com/hyperifyio/goarchive/internal/item"
	"github.com/hyperifyio/goarchive/internal/layout"
)

// ReportMeta captures high-level run details.
type ReportMeta struct {
	RunID               string    `json:"run_id"`
	Version             string    `json:"version"`
	Input               string    `json:"input"`
	OutputDir           string    `json:"output_dir"`
	PageConcurrency     int       `json:"page_concurrency"`
	DownloadConcurrency int       `json:"download_concurrency"`
	HTTPCache           bool      `json:"http_cache"`
	Ledger              bool      `json:"ledger"`
	Cancelled           bool      `json:"cancelled"`
	Started             time.Time `json:"started"`
	Finished            time.Time `json:"finished"`
	DurationSeconds     float64   `json:"duration_seconds"`
}

// ReportAttachment is one attachment of a row.
type ReportAttachment struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Path     string `json:"path,omitempty"`
	Bytes    int64  `json:"bytes"`
	Attempts int    `json:"attempts"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReportRow is the structured outcome of one input row. Paths are relative to
// the output directory.
type ReportRow struct {
	Row             int                `json:"row"`
	URL             string             `json:"url"`
	Title           string             `json:"title"`
	Success         bool               `json:"success"`
	Resumed         bool               `json:"resumed,omitempty"`
	Degraded        bool               `json:"degraded,omitempty"`
	Document        string             `json:"document,omitempty"`
	SHA256          string             `json:"sha256,omitempty"`
	Pages           int                `json:"pages,omitempty"`
	Encoding        string             `json:"encoding,omitempty"`
	FetchRetries    int                `json:"fetch_retries"`
	AttachmentCount int                `json:"attachment_count"`
	Kind            string             `json:"kind,omitempty"`
	Error           string             `json:"error,omitempty"`
	DurationMS      int64              `json:"duration_ms"`
	Attachments     []ReportAttachment `json:"attachments,omitempty"`
}

// ReportError lists one failure for quick scanning.
type ReportError struct {
	Row     int    `json:"row"`
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is the machine-readable execution report.
type Report struct {
	Meta   ReportMeta      `json:"meta"`
	Stats  aggregate.Stats `json:"stats"`
	Errors []ReportError   `json:"errors"`
	Rows   []ReportRow     `json:"rows"`
}

// BuildReport converts outcomes into a Report. Documents are hashed so the
// archive can be verified after packaging.
func BuildReport(meta ReportMeta, lay layout.Layout, outcomes []item.Outcome) Report {
	meta.DurationSeconds = meta.Finished.Sub(meta.Started).Seconds()
	rep := Report{Meta: meta, Stats: aggregate.Summarize(outcomes), Errors: []ReportError{}, Rows: make([]ReportRow, 0, len(outcomes))}
	for _, o := range outcomes {
		row := ReportRow{
			Row:             o.Row,
			URL:             o.URL,
			Title:           o.Title,
			Success:         o.Success,
			Resumed:         o.Resumed,
			Degraded:        o.Degraded,
			Pages:           o.Pages,
			Encoding:        o.Encoding,
			FetchRetries:    o.FetchRetries,
			AttachmentCount: o.AttachmentCount,
			Kind:            string(o.Kind),
			DurationMS:      o.Duration().Milliseconds(),
		}
		if o.DocumentPath != "" {
			row.Document = lay.Rel(o.DocumentPath)
			if sum, err := sha256File(o.DocumentPath); err == nil {
				row.SHA256 = sum
			}
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
			rep.Errors = append(rep.Errors, ReportError{Row: o.Row, URL: o.URL, Kind: string(o.Kind), Message: row.Error})
		}
		for _, a := range o.Attachments {
			ra := ReportAttachment{Index: a.Index, URL: a.URL, Bytes: a.Bytes, Attempts: a.Attempts}
			if a.Path != "" {
				ra.Path = lay.Rel(a.Path)
			}
			if a.Err != nil {
				ra.Kind = string(item.KindOf(a.Err))
				ra.Error = a.Err.Error()
				rep.Errors = append(rep.Errors, ReportError{Row: o.Row, URL: a.URL, Kind: ra.Kind, Message: ra.Error})
			}
			row.Attachments = append(row.Attachments, ra)
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep
}

// WriteReport writes r as indented JSON, replacing path atomically.
func WriteReport(path string, r Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return writeFileAtomic(path, append(b, '\n'))
}

// WriteResultsCSV writes one status line per row, for pasting back into the
// source spreadsheet.
func WriteResultsCSV(path string, r Report) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeResults(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeResults(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"row", "url", "title", "status", "attachments", "failed_attachments", "document", "error"})
	for _, row := range r.Rows {
		status := "failed"
		switch {
		case row.Resumed:
			status = "skipped"
		case row.Success:
			status = "ok"
		}
		failed := 0
		for _, a := range row.Attachments {
			if a.Error != "" {
				failed++
			}
		}
		_ = cw.Write([]string{
			strconv.Itoa(row.Row), row.URL, row.Title, status,
			strconv.Itoa(row.AttachmentCount), strconv.Itoa(failed),
			row.Document, row.Error,
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
