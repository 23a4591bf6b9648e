package extract

import (
	"strings"
	"testing"
)

func BenchmarkExtract(b *testing.B) {
	small := "<html><head><title>t</title></head><body><main><p>a</p></main></body></html>"
	medium := makeHTML(50, 60)
	large := makeHTML(200, 200)
	h := NewHeuristic(nil)

	for name, in := range map[string]string{"small": small, "medium": medium, "large": large} {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = h.Extract(in, "http://example.com/")
			}
		})
	}
}

func makeHTML(paras int, links int) string {
	builder := new(strings.Builder)
	builder.WriteString("<html><head><title>demo</title></head><body><nav>menu</nav><main>")
	for i := 0; i < paras; i++ {
		builder.WriteString("<h2>标题</h2><p>")
		builder.WriteString(sampleText)
		builder.WriteString("</p>")
	}
	builder.WriteString("<ul>")
	for i := 0; i < links; i++ {
		builder.WriteString(`<li><a href="files/doc.pdf">`)
		builder.WriteString(sampleText)
		builder.WriteString("</a></li>")
	}
	builder.WriteString("</ul></main></body></html>")
	return builder.String()
}

const sampleText = "通知公告 Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore."
