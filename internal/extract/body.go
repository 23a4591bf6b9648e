package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// pickContainer returns the element holding most of the page's prose. Each
// text run credits the parent of its nearest block element in full and the
// grandparent by half; link text earns nothing. When nothing scores it falls
// back to main, article, then body.
func pickContainer(root *html.Node) *html.Node {
	scores := map[*html.Node]float64{}
	var order []*html.Node
	credit := func(n *html.Node, v float64) {
		if n == nil || n.Type != html.ElementNode {
			return
		}
		if _, ok := scores[n]; !ok {
			order = append(order, n)
		}
		scores[n] += v
	}

	var walk func(n *html.Node, inLink bool)
	walk = func(n *html.Node, inLink bool) {
		if skipped(n) {
			return
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			inLink = true
		}
		if n.Type == html.TextNode && !inLink {
			weight := float64(len([]rune(strings.TrimSpace(n.Data))))
			if weight > 0 {
				if blk := nearestBlock(n); blk != nil {
					credit(blk.Parent, weight)
					if blk.Parent != nil {
						credit(blk.Parent.Parent, weight/2)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(root, false)

	var best *html.Node
	bestScore := 0.0
	for _, n := range order {
		if strings.EqualFold(n.Data, "html") {
			continue
		}
		if s := scores[n]; s > bestScore {
			best, bestScore = n, s
		}
	}
	if best != nil {
		return best
	}
	for _, tag := range []string{"main", "article", "body"} {
		if n := findTag(root, tag); n != nil {
			return n
		}
	}
	return root
}

func nearestBlock(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if isBlockElement(p) {
			return p
		}
	}
	return nil
}

// collector flattens a container into heading and paragraph blocks.
type collector struct {
	buf    strings.Builder
	blocks []Block
}

func (c *collector) flush() {
	if t := cleanText(c.buf.String()); t != "" {
		c.blocks = append(c.blocks, Block{Kind: Paragraph, Text: t})
	}
	c.buf.Reset()
}

func (c *collector) walk(n *html.Node) {
	if skipped(n) {
		return
	}
	switch n.Type {
	case html.TextNode:
		c.buf.WriteString(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if lvl := headingLevel(n); lvl > 0 {
			c.flush()
			if t := cleanText(textOf(n)); t != "" {
				c.blocks = append(c.blocks, Block{Kind: Heading, Level: lvl, Text: t})
			}
			return
		}
		switch tag {
		case "br", "hr":
			c.flush()
			return
		case "img", "input", "video", "audio", "object", "embed":
			return
		case "pre":
			c.flush()
			for _, line := range strings.Split(textOf(n), "\n") {
				if t := cleanText(line); t != "" {
					c.blocks = append(c.blocks, Block{Kind: Paragraph, Text: t})
				}
			}
			return
		}
		block := isBlockElement(n)
		if block {
			c.flush()
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			c.walk(ch)
		}
		if block {
			c.flush()
		}
		return
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.walk(ch)
	}
}
