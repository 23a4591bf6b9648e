package render

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font/sfnt"
)

// ErrNoFont means no entry of the fallback list could be loaded.
var ErrNoFont = errors.New("no usable font in fallback list")

// Face is a loaded TrueType font.
type Face struct {
	Path string
	Data []byte
	// Covers reports whether the font has a glyph for r.
	Covers func(r rune) bool
}

// DefaultFontFallbackList returns TrueType paths likely to cover CJK text on
// the current OS, with DejaVu last for Latin punctuation. gofpdf cannot embed
// .ttc collections or CFF-flavoured .otf files, so only .ttf paths appear.
func DefaultFontFallbackList() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Windows\Fonts\simhei.ttf`,
			`C:\Windows\Fonts\simfang.ttf`,
			`C:\Windows\Fonts\simkai.ttf`,
			`C:\Windows\Fonts\arialuni.ttf`,
			`C:\Windows\Fonts\arial.ttf`,
		}
	case "darwin":
		return []string{
			"/Library/Fonts/Arial Unicode.ttf",
			"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
			"/System/Library/Fonts/Supplemental/Songti.ttf",
			"/Library/Fonts/Arial.ttf",
		}
	}
	return []string{
		"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
		"/usr/share/fonts/truetype/arphic-gkai00mp/gkai00mp.ttf",
		"/usr/share/fonts/truetype/arphic-bsmi00lp/bsmi00lp.ttf",
		"/usr/share/fonts/TTF/DroidSansFallbackFull.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/TTF/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	}
}

// Registry loads the fallback fonts once per process. It is safe for
// concurrent use; after the first Faces call it is read-only.
type Registry struct {
	paths []string
	load  func(path string) (Face, error)

	once  sync.Once
	mu    sync.RWMutex
	faces []Face
	err   error
}

// NewRegistry returns a registry over paths in priority order. An empty list
// uses DefaultFontFallbackList.
func NewRegistry(paths []string) *Registry {
	if len(paths) == 0 {
		paths = DefaultFontFallbackList()
	}
	return &Registry{paths: append([]string(nil), paths...), load: loadFace}
}

// Faces returns every usable font in priority order, loading them on first use.
func (r *Registry) Faces() ([]Face, error) {
	r.once.Do(func() {
		var faces []Face
		for _, p := range r.paths {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			f, err := r.load(p)
			if err != nil {
				log.Debug().Err(err).Str("path", p).Msg("font skipped")
				continue
			}
			faces = append(faces, f)
			log.Debug().Str("path", p).Int("bytes", len(f.Data)).Msg("font loaded")
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.faces = faces
		if len(faces) == 0 {
			r.err = fmt.Errorf("%w: tried %s", ErrNoFont, strings.Join(r.paths, ", "))
			log.Warn().Strs("paths", r.paths).Msg("no usable font; documents will fail to render")
			return
		}
		log.Info().Str("primary", faces[0].Path).Int("fonts", len(faces)).Msg("fonts registered")
	})
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.faces, r.err
}

// Close releases font data. Later Faces calls report ErrNoFont.
func (r *Registry) Close() error {
	r.once.Do(func() {})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces = nil
	r.err = ErrNoFont
	return nil
}

// loadFace reads a font, parses it for coverage queries and checks that gofpdf
// accepts it, so a bad file is rejected once instead of failing every render.
func loadFace(path string) (Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Face{}, err
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return Face{}, fmt.Errorf("parse font: %w", err)
	}
	if err := probeGofpdf(data); err != nil {
		return Face{}, err
	}
	return Face{Path: path, Data: data, Covers: sfntCoverage(f)}, nil
}

func probeGofpdf(data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("gofpdf rejected font: %v", p)
		}
	}()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddUTF8FontFromBytes("probe", "", data)
	if pdf.Err() {
		return fmt.Errorf("gofpdf rejected font: %w", pdf.Error())
	}
	return nil
}

// sfntCoverage answers glyph lookups from a per-font cache; sfnt needs a
// Buffer per concurrent call.
func sfntCoverage(f *sfnt.Font) func(rune) bool {
	var (
		mu    sync.RWMutex
		known = map[rune]bool{}
		bufs  = sync.Pool{New: func() any { return new(sfnt.Buffer) }}
	)
	return func(r rune) bool {
		if r > maxRune {
			return false
		}
		mu.RLock()
		v, ok := known[r]
		mu.RUnlock()
		if ok {
			return v
		}
		buf := bufs.Get().(*sfnt.Buffer)
		idx, err := f.GlyphIndex(buf, r)
		bufs.Put(buf)
		v = err == nil && idx != 0
		mu.Lock()
		known[r] = v
		mu.Unlock()
		return v
	}
}
