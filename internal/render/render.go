// Package render lays extracted content out as an A4 PDF using the fonts of a
// shared Registry, substituting a placeholder for characters no font covers.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goarchive/internal/extract"
	"github.com/hyperifyio/goarchive/internal/item"
)

// ErrEmptyContent means there was no body to lay out.
var ErrEmptyContent = errors.New("no body content to render")

const (
	placeholder         = '\u25a1'
	fallbackPlaceholder = '?'
	titleSize           = 18.0
	bodySize            = 11.0
	marginMM            = 15.0
)

const (
	// boldStroke is the outline width per point of font size, in mm.
	boldStroke      = 0.012
	normalLineWidth = 0.2
)

// maxRune is the last code point gofpdf's UTF-8 width tables can index.
const maxRune = 0xFFFF

// Document is a rendered file.
type Document struct {
	Path  string
	Pages int
	// Substituted counts characters replaced by the placeholder.
	Substituted int
}

// Renderer writes one PDF per call. It is safe for concurrent use.
type Renderer struct {
	Fonts *Registry
	// MaxBlocks caps rendered blocks. Zero means 500.
	MaxBlocks int
	// Author is written into the PDF metadata when set.
	Author string
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 14
	}
	return 12
}

// Render lays out c and writes it to path through a temp file, so a failed
// render leaves nothing at path. ctx is checked between blocks.
func (r *Renderer) Render(ctx context.Context, c extract.Content, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, ctxErr(path, err)
	}
	if c.Trivial() {
		return Document{}, item.Wrap(item.KindRender, "render", path, ErrEmptyContent)
	}
	faces, err := r.Fonts.Faces()
	if err != nil {
		return Document{}, item.Wrap(item.KindRender, "render", path, err)
	}

	doc, err := r.layout(ctx, c, faces, path)
	if err != nil {
		return Document{}, err
	}
	if doc.Substituted > 0 {
		log.Debug().Str("path", path).Int("substituted", doc.Substituted).Msg("characters without glyphs")
	}
	return doc, nil
}

// layout builds and writes the PDF. A gofpdf panic becomes a render error for
// this document only.
func (r *Renderer) layout(ctx context.Context, c extract.Content, faces []Face, path string) (doc Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc = Document{}
			err = item.Wrap(item.KindRender, "render", path, fmt.Errorf("pdf layout: %v", p))
		}
	}()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.SetTitle(c.Title, true)
	if r.Author != "" {
		pdf.SetAuthor(r.Author, true)
	}
	for i, f := range faces {
		pdf.AddUTF8FontFromBytes(family(i), "", f.Data)
	}
	if pdf.Err() {
		return Document{}, item.Wrap(item.KindRender, "render", path, pdf.Error())
	}
	pdf.AddPage()

	w := &writer{pdf: pdf, faces: faces}
	w.paragraph(c.Title, titleSize, true)
	pdf.Ln(3)

	max := r.MaxBlocks
	if max <= 0 {
		max = 500
	}
	for i, b := range c.Blocks {
		if i >= max {
			break
		}
		if err := ctx.Err(); err != nil {
			return Document{}, ctxErr(path, err)
		}
		if b.Kind == extract.Heading {
			pdf.Ln(2)
			w.paragraph(b.Text, headingSize(b.Level), true)
			continue
		}
		w.paragraph(b.Text, bodySize, false)
	}
	if pdf.Err() {
		return Document{}, item.Wrap(item.KindRender, "render", path, pdf.Error())
	}

	doc = Document{Path: path, Pages: pdf.PageCount(), Substituted: w.substituted}
	if err := writeAtomic(pdf, path); err != nil {
		return Document{}, item.Wrap(item.KindRender, "render", path, err)
	}
	return doc, nil
}

func ctxErr(path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &item.Error{Kind: item.KindTimeout, Op: "render", URL: path, Err: err}
	}
	return item.Cancelled("render", path, err)
}

func family(i int) string { return "f" + strconv.Itoa(i) }

func writeAtomic(pdf *gofpdf.Fpdf, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := pdf.OutputFileAndClose(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write pdf: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename pdf: %w", err)
	}
	return nil
}

type writer struct {
	pdf         *gofpdf.Fpdf
	faces       []Face
	substituted int
}

// paragraph writes text at size, switching fonts wherever coverage changes,
// and ends the line. Bold strokes the glyph outlines.
func (w *writer) paragraph(text string, size float64, bold bool) {
	lh := size * 0.5
	runs, subs := segment(text, coverageOf(w.faces))
	w.substituted += subs
	if bold {
		w.pdf.SetDrawColor(0, 0, 0)
		w.pdf.SetLineWidth(size * boldStroke)
		w.pdf.SetTextRenderingMode(2)
	}
	for _, rn := range runs {
		w.pdf.SetFont(family(rn.face), "", size)
		w.pdf.Write(lh, rn.text)
	}
	if bold {
		w.pdf.SetTextRenderingMode(0)
		w.pdf.SetLineWidth(normalLineWidth)
	}
	w.pdf.Ln(lh * 1.5)
}

func coverageOf(faces []Face) []func(rune) bool {
	out := make([]func(rune) bool, len(faces))
	for i, f := range faces {
		out[i] = f.Covers
	}
	return out
}

type run struct {
	face int
	text string
}

// segment splits text into runs of the first font covering each rune. Runes
// nobody covers, and runes above the Basic Multilingual Plane, become U+25A1,
// or '?' when no font has that either.
func segment(text string, covers []func(rune) bool) ([]run, int) {
	pick := func(r rune) int {
		if r > maxRune {
			return -1
		}
		for i, c := range covers {
			if c != nil && c(r) {
				return i
			}
		}
		return -1
	}
	var (
		runs []run
		buf  []rune
		cur  = -1
		subs int
	)
	flush := func() {
		if len(buf) > 0 {
			runs = append(runs, run{face: cur, text: string(buf)})
			buf = buf[:0]
		}
	}
	for _, r := range text {
		idx := pick(r)
		if idx < 0 {
			subs++
			r = placeholder
			if idx = pick(r); idx < 0 {
				r, idx = fallbackPlaceholder, 0
			}
		}
		if idx != cur {
			flush()
			cur = idx
		}
		buf = append(buf, r)
	}
	flush()
	return runs, subs
}
