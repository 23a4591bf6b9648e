package extract

import (
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/hyperifyio/goarchive/internal/aggregate"
)

// BlockKind distinguishes headings from body paragraphs.
type BlockKind int

const (
	Paragraph BlockKind = iota
	Heading
)

// Block is one unit of body text in reading order.
type Block struct {
	Kind BlockKind
	// Level is 1..6 for headings and 0 for paragraphs.
	Level int
	Text  string
}

// Attachment is a resolved, absolute link whose extension is in the
// configured set. Name is the link text or the URL file name.
type Attachment struct {
	URL  string
	Name string
}

// Content is the title, ordered body and attachment links of one page.
type Content struct {
	Title       string
	Blocks      []Block
	Attachments []Attachment
	// Degraded is set when no body could be extracted.
	Degraded bool
}

// Trivial reports whether there is nothing worth rendering.
func (c Content) Trivial() bool { return len(c.Blocks) == 0 }

func fromHTML(text string, baseURL string, exts map[string]struct{}, maxBlocks int) Content {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil || doc == nil || len(doc.Nodes) == 0 {
		log.Debug().Err(err).Str("url", baseURL).Msg("unparseable markup")
		return Content{Title: baseURL, Degraded: true}
	}
	root := doc.Nodes[0]

	out := Content{
		Title:       resolveTitle(doc, root, baseURL),
		Attachments: harvestAttachments(doc, resolveBase(doc, baseURL), exts),
	}
	container := pickContainer(root)
	if container != nil {
		var c collector
		c.walk(container)
		c.flush()
		out.Blocks = c.blocks
	}
	if len(out.Blocks) > maxBlocks {
		log.Debug().Int("blocks", len(out.Blocks)).Int("max", maxBlocks).Str("url", baseURL).Msg("truncating body")
		out.Blocks = out.Blocks[:maxBlocks]
	}
	out.Degraded = len(out.Blocks) == 0
	return out
}

// resolveTitle prefers <title>, then the first heading, then the URL.
func resolveTitle(doc *goquery.Document, root *html.Node, baseURL string) string {
	if t := cleanText(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if t := cleanText(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if h := findFirst(root, func(n *html.Node) bool { return headingLevel(n) > 0 }); h != nil {
		if t := cleanText(textOf(h)); t != "" {
			return t
		}
	}
	return baseURL
}

func resolveBase(doc *goquery.Document, baseURL string) *url.URL {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		base = &url.URL{}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			return b
		}
	}
	return base
}

// harvestAttachments resolves every href and src whose extension is in exts,
// deduplicating while keeping first-seen order.
func harvestAttachments(doc *goquery.Document, base *url.URL, exts map[string]struct{}) []Attachment {
	seen := map[string]struct{}{}
	var out []Attachment
	doc.Find("[href], [src]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			raw, ok := s.Attr(attr)
			if !ok {
				continue
			}
			u, ok := resolveLink(base, raw)
			if !ok {
				continue
			}
			if _, ok := exts[strings.ToLower(path.Ext(u.Path))]; !ok {
				continue
			}
			key := aggregate.NormalizeURL(u)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			name := ""
			if goquery.NodeName(s) == "a" {
				name = cleanText(s.Text())
			}
			if name == "" {
				name = fileNameFromURL(u)
			}
			out = append(out, Attachment{URL: u.String(), Name: name})
		}
	})
	return out
}

func resolveLink(base *url.URL, raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil, false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

func fileNameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// skipped reports elements whose content never belongs to the body.
func skipped(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "nav", "footer", "aside", "iframe", "header", "form", "select", "button", "template", "svg", "head":
		return true
	}
	return isBoilerplateContainer(n)
}

func headingLevel(n *html.Node) int {
	if n == nil || n.Type != html.ElementNode {
		return 0
	}
	name := strings.ToLower(n.Data)
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func isBlockElement(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "p", "div", "section", "article", "main", "li", "ul", "ol", "dl", "dt", "dd",
		"table", "tr", "td", "th", "tbody", "thead", "blockquote", "pre", "center",
		"h1", "h2", "h3", "h4", "h5", "h6", "body", "figure", "figcaption", "address":
		return true
	}
	return false
}

// isBoilerplateContainer returns true if the element looks like a cookie/consent banner.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		if containsAny(val, []string{"cookie", "consent", "gdpr"}) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if skipped(c) {
			continue
		}
		if res := findFirst(c, match); res != nil {
			return res
		}
	}
	return nil
}

func findTag(n *html.Node, tag string) *html.Node {
	return findFirst(n, func(cur *html.Node) bool {
		return cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag)
	})
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if skipped(c) {
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// cleanText normalizes to NFC, drops zero-width characters and control codes,
// maps unusual spaces to a plain space and collapses whitespace runs.
func cleanText(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
			continue
		}
		if unicode.IsSpace(r) || r == '\u00a0' || r == '\u3000' || r == '\u202f' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
