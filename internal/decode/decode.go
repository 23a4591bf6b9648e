// Package decode turns fetched bytes into text. It never fails: when every
// declared, detected and candidate encoding is rejected, it falls back to
// UTF-8 with invalid bytes replaced.
package decode

import (
	"bytes"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// Source names the cascade step that produced a Result.
type Source string

const (
	SourceEmpty     Source = "empty"
	SourceHeader    Source = "header"
	SourceBOM       Source = "bom"
	SourceMeta      Source = "meta"
	SourceDetector  Source = "detector"
	SourceCandidate Source = "candidate"
	SourceFallback  Source = "fallback"
)

// Result is decoded text and the label of the encoding that produced it.
type Result struct {
	Text     string
	Encoding string
	Source   Source
	// Lossy is set when invalid bytes were substituted.
	Lossy bool
}

// DefaultCandidates is tried in order when nothing declared or detected works.
var DefaultCandidates = []string{"utf-8", "gbk", "gb2312", "gb18030", "big5"}

// DefaultThreshold is the minimum detector confidence accepted.
const DefaultThreshold = 0.7

// Resolver holds the cascade configuration. The zero value uses defaults and
// the chardet-backed detector.
type Resolver struct {
	Threshold  float64
	Candidates []string
	Detector   Detector
}

// Resolve decodes raw using the cascade: header charset, BOM, meta
// declaration, statistical detection, fixed candidates, lossy UTF-8.
func (r Resolver) Resolve(raw []byte, contentType string) (res Result) {
	if len(raw) == 0 {
		return Result{Text: "", Encoding: "unknown", Source: SourceEmpty}
	}
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Msg("decode cascade panicked; using lossy utf-8")
			res = fallback(raw)
		}
	}()

	if label := headerCharset(contentType); label != "" {
		if text, name, ok := tryLabel(raw, label); ok {
			return Result{Text: text, Encoding: name, Source: SourceHeader}
		}
		log.Debug().Str("charset", label).Msg("declared charset rejected")
	}
	if _, name, certain := charset.DetermineEncoding(raw, ""); certain {
		if text, name, ok := tryLabel(raw, name); ok {
			return Result{Text: text, Encoding: name, Source: SourceBOM}
		}
	}
	if label := metaCharset(raw); label != "" {
		if text, name, ok := tryLabel(raw, label); ok {
			return Result{Text: text, Encoding: name, Source: SourceMeta}
		}
	}

	det := r.Detector
	if det == nil {
		det = defaultDetector
	}
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if label, conf, ok := det.Detect(raw); ok && conf >= threshold {
		if text, name, ok := tryLabel(raw, label); ok {
			return Result{Text: text, Encoding: name, Source: SourceDetector}
		}
	}

	candidates := r.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	for _, label := range candidates {
		if text, name, ok := tryLabel(raw, label); ok {
			return Result{Text: text, Encoding: name, Source: SourceCandidate}
		}
	}
	return fallback(raw)
}

func fallback(raw []byte) Result {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	return Result{
		Text:     strings.ToValidUTF8(string(raw), string(utf8.RuneError)),
		Encoding: "utf-8",
		Source:   SourceFallback,
		Lossy:    !utf8.Valid(raw),
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// tryLabel strictly decodes raw with the encoding named by label. It fails on
// unknown labels, decoder errors and substituted runes.
func tryLabel(raw []byte, label string) (string, string, bool) {
	enc, name := lookup(label)
	if enc == nil {
		return "", "", false
	}
	if name == "utf-8" {
		raw = bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(raw) {
			return "", "", false
		}
		return string(raw), name, true
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", "", false
	}
	return string(out), name, true
}

// lookup resolves a WHATWG label, also accepting the spellings used by
// detectors such as "GB-18030".
func lookup(label string) (encoding.Encoding, string) {
	label = strings.ToLower(strings.TrimSpace(strings.Trim(label, `"'`)))
	if label == "" {
		return nil, ""
	}
	if enc, name := charset.Lookup(label); enc != nil {
		return enc, name
	}
	if alt := strings.ReplaceAll(label, "-", ""); alt != label {
		if enc, name := charset.Lookup(alt); enc != nil {
			return enc, name
		}
	}
	return nil, ""
}

func headerCharset(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// tolerate sloppy headers like "text/html; charset=gbk;"
		lower := strings.ToLower(contentType)
		if i := strings.Index(lower, "charset="); i >= 0 {
			v := contentType[i+len("charset="):]
			if j := strings.IndexAny(v, "; "); j >= 0 {
				v = v[:j]
			}
			return strings.Trim(v, `"'`)
		}
		return ""
	}
	return params["charset"]
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([a-zA-Z0-9_\-:.]+)`)

// metaCharset scans the head of the document for a charset declaration.
func metaCharset(raw []byte) string {
	head := raw
	if len(head) > 2048 {
		head = head[:2048]
	}
	m := metaCharsetRe.FindSubmatch(head)
	if m == nil {
		return ""
	}
	return string(m[1])
}
