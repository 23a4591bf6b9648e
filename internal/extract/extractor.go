package extract

import (
	"strings"
)

// Extractor defines a minimal interface for content extraction strategies.
// Implementations can swap the body heuristic without changing the scheduler
// or the downloader.
type Extractor interface {
	// Extract converts decoded HTML into Content. It never fails; malformed
	// input yields degraded Content.
	Extract(text string, baseURL string) Content
}

// DefaultExtensions is the attachment extension set used when none is configured.
var DefaultExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".7z", ".tar", ".gz", ".txt", ".csv",
	".wps", ".et", ".ofd",
}

// HeuristicExtractor picks the most text-dense container, normalizes it into
// heading and paragraph blocks and harvests attachment links.
type HeuristicExtractor struct {
	extensions map[string]struct{}
	// MaxBlocks caps emitted blocks. Zero means 500.
	MaxBlocks int
}

// NewHeuristic builds an extractor matching the given extensions. Entries may
// be written with or without the leading dot and in any case.
func NewHeuristic(extensions []string) HeuristicExtractor {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return HeuristicExtractor{extensions: set}
}

func (h HeuristicExtractor) Extract(text string, baseURL string) Content {
	max := h.MaxBlocks
	if max <= 0 {
		max = 500
	}
	exts := h.extensions
	if exts == nil {
		exts = NewHeuristic(nil).extensions
	}
	return fromHTML(text, baseURL, exts, max)
}
