// Package layout derives the on-disk location of every document and
// attachment. Paths are a pure function of the work item, so workers never
// coordinate and two rows never share a directory.
package layout

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hyperifyio/goarchive/internal/item"
)

const (
	maxSlugRunes     = 48
	maxFileNameBytes = 180
	attachmentsDir   = "attachments"
)

// Layout roots the output tree.
type Layout struct {
	Root string
}

// ItemDir is <root>/<row>_<slug>. The zero-padded row keeps listings in input order.
func (l Layout) ItemDir(it item.WorkItem) string {
	return filepath.Join(l.root(), fmt.Sprintf("%04d_%s", it.Row, Slugify(label(it), "page")))
}

// DocumentPath is the rendered PDF for the item.
func (l Layout) DocumentPath(it item.WorkItem) string {
	return filepath.Join(l.ItemDir(it), Slugify(label(it), "page")+".pdf")
}

// AttachmentPath is <item>/attachments/<index>_<name>. index is 1-based and
// unique per item, which keeps equal names from colliding.
func (l Layout) AttachmentPath(it item.WorkItem, index int, name, rawURL string) string {
	return filepath.Join(l.ItemDir(it), attachmentsDir, fmt.Sprintf("%02d_%s", index, AttachmentName(name, rawURL)))
}

// Ensure creates the item directory and its attachments directory.
func (l Layout) Ensure(it item.WorkItem) error {
	return os.MkdirAll(filepath.Join(l.ItemDir(it), attachmentsDir), 0o755)
}

// Rel returns p relative to the root, or p when that is not possible.
func (l Layout) Rel(p string) string {
	if p == "" {
		return ""
	}
	if r, err := filepath.Rel(l.root(), p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

func (l Layout) root() string {
	if strings.TrimSpace(l.Root) == "" {
		return "output"
	}
	return l.Root
}

func label(it item.WorkItem) string {
	if t := strings.TrimSpace(it.Title); t != "" {
		return t
	}
	if u, err := url.Parse(it.URL); err == nil && u.Host != "" {
		return u.Host + u.Path
	}
	return it.URL
}

// Slugify keeps letters and digits of any script, lower-cases Latin, and
// joins everything else with single hyphens. The result is capped in runes.
func Slugify(s string, fallback string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	var b strings.Builder
	n := 0
	pendingDash := false
	for _, r := range s {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
			n++
			continue
		}
		pendingDash = true
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return fallback
	}
	return out
}

// AttachmentName sanitises the suggested name and makes sure it carries the
// extension of the URL path, so "年度报告" linking to x.pdf becomes "年度报告.pdf".
func AttachmentName(name, rawURL string) string {
	ext := ""
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
		base = path.Base(u.Path)
		if s, err := url.PathUnescape(base); err == nil {
			base = s
		}
		if base == "/" || base == "." {
			base = ""
		}
	}
	clean := SanitizeFileName(name)
	if clean == "" {
		clean = SanitizeFileName(base)
	}
	if clean == "" {
		clean = "attachment"
	}
	if ext != "" && !strings.EqualFold(filepath.Ext(clean), ext) {
		clean += ext
	}
	return truncateName(clean)
}

// SanitizeFileName removes path separators, characters reserved on common
// filesystems and control codes, and trims leading dots and spaces.
func SanitizeFileName(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	lastSpace := false
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			r = '_'
		case unicode.IsControl(r) || r == utf8.RuneError:
			continue
		case unicode.IsSpace(r):
			if lastSpace {
				continue
			}
			r = ' '
		}
		lastSpace = r == ' '
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), " .")
}

func truncateName(name string) string {
	if len(name) <= maxFileNameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := name[:len(name)-len(ext)]
	limit := maxFileNameBytes - len(ext)
	for limit > 0 && !utf8.RuneStart(stem[limit]) {
		limit--
	}
	return stem[:limit] + ext
}
