package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goarchive/internal/item"
)

// ErrNoRows means the input held no usable URL.
var ErrNoRows = errors.New("no usable URL rows in input")

var (
	urlColumnNames   = []string{"url", "link", "链接", "网址", "标题链接", "address", "href"}
	titleColumnNames = []string{"title", "name", "标题", "名称", "题目", "subject"}
)

// LoadRows reads work items from a CSV file. See ReadRows.
func LoadRows(path string) ([]item.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	rows, err := ReadRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadRows parses CSV into work items. The URL column is found by header name
// or, failing that, by content; the title column by header name only. Row
// numbers count data rows from 1 and survive skipped rows, so they match the
// spreadsheet the CSV was exported from. Rows without a repairable URL are
// skipped; rows without a title get "页面_<n>".
func ReadRows(r io.Reader) ([]item.WorkItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	if len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}

	urlCol, titleCol, header := detectColumns(records)
	if urlCol < 0 {
		return nil, fmt.Errorf("%w: no URL column found", ErrNoRows)
	}
	data := records
	if header {
		data = records[1:]
	}

	var out []item.WorkItem
	for i, rec := range data {
		row := i + 1
		raw := field(rec, urlCol)
		u, ok := RepairURL(raw)
		if !ok {
			if strings.TrimSpace(raw) != "" {
				log.Debug().Int("row", row).Str("value", raw).Msg("skipping row without usable URL")
			}
			continue
		}
		title := field(rec, titleCol)
		if title == "" {
			title = fmt.Sprintf("页面_%d", row)
		}
		out = append(out, item.WorkItem{Row: row, URL: u, Title: title})
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}

// detectColumns returns the URL and title column indexes (-1 when absent) and
// whether the first record is a header.
func detectColumns(records [][]string) (urlCol, titleCol int, header bool) {
	first := records[0]
	urlCol = matchColumn(first, urlColumnNames)
	titleCol = matchColumn(first, titleColumnNames)
	if urlCol >= 0 {
		return urlCol, titleCol, true
	}
	// No known URL header: the first record is data if it already holds a URL.
	header = true
	for _, v := range first {
		if looksLikeURL(v) {
			header = false
			break
		}
	}
	sample := records
	if header {
		sample = records[1:]
	} else {
		titleCol = -1
	}
	if len(sample) > 5 {
		sample = sample[:5]
	}
	width := 0
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}
	for col := 0; col < width; col++ {
		seen, hits := 0, 0
		for _, rec := range sample {
			v := field(rec, col)
			if v == "" {
				continue
			}
			seen++
			if looksLikeURL(v) {
				hits++
			}
		}
		if seen > 0 && float64(hits) >= float64(seen)*0.6 {
			return col, titleCol, header
		}
	}
	return -1, titleCol, header
}

func matchColumn(header []string, names []string) int {
	for _, want := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
	}
	return -1
}

func looksLikeURL(v string) bool {
	v = strings.ToLower(v)
	return strings.Contains(v, "http") || strings.Contains(v, "www.")
}

func field(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

// RepairURL fixes the URL shapes common in hand-maintained spreadsheets:
// a single slash after the scheme, protocol-relative and scheme-less hosts.
// It reports false for values that cannot be an http(s) URL.
func RepairURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if s == "" || lower == "nan" || lower == "none" {
		return "", false
	}
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
	case strings.HasPrefix(lower, "https:/"):
		s = "https://" + s[len("https:/"):]
	case strings.HasPrefix(lower, "http:/"):
		s = "http://" + s[len("http:/"):]
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case strings.Contains(s, ".") && !strings.Contains(s, " ") && !strings.Contains(lower, "://"):
		s = "https://" + s
	default:
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (!strings.Contains(u.Host, ".") && u.Hostname() != "localhost") {
		return "", false
	}
	return s, true
}
