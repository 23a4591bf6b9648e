package aggregate

import (
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/hyperifyio/goarchive/internal/item"
)

func TestNormalizeURL_TrimsTrackingAndCase(t *testing.T) {
	cases := map[string]string{
		"https://EXAMPLE.com/page?utm_source=x&utm_medium=y": "https://example.com/page",
		"https://example.com/page#section":                  "https://example.com/page",
		"HTTP://Example.com:80/a.pdf?b=2&a=1":               "http://example.com/a.pdf?a=1&b=2",
		"https://example.com":                                "https://example.com/",
	}
	for in, want := range cases {
		u, err := url.Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := NormalizeURL(u); got != want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
		if u.String() == want && in != want {
			t.Fatalf("input URL was modified")
		}
	}
}

func TestCollector_SortsByRowAndCountsAttachments(t *testing.T) {
	c := NewCollector()
	items := []item.WorkItem{{Row: 3, URL: "u3"}, {Row: 1, URL: "u1"}, {Row: 2, URL: "u2"}}
	for _, it := range items {
		if !c.Start(it) {
			t.Fatalf("unexpected duplicate for row %d", it.Row)
		}
	}

	var wg sync.WaitGroup
	for _, it := range items {
		it := it
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Attach(item.AttachmentResult{Row: it.Row, Index: 2, URL: "b", Err: errors.New("404")})
			c.Attach(item.AttachmentResult{Row: it.Row, Index: 1, URL: "a", Path: "/tmp/a", Bytes: 10, Attempts: 1})
			if err := c.Put(item.Outcome{Row: it.Row, URL: it.URL, Success: true}); err != nil {
				t.Errorf("put: %v", err)
			}
		}()
	}
	wg.Wait()

	out := c.Finalize()
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	for i, o := range out {
		if o.Row != i+1 {
			t.Fatalf("outcome %d has row %d", i, o.Row)
		}
		if o.AttachmentCount != 1 || len(o.Attachments) != 2 || o.Attachments[0].URL != "a" {
			t.Fatalf("unexpected attachments %+v", o)
		}
		if len(o.FailedAttachments()) != 1 || !o.Success {
			t.Fatalf("attachment failure must not flip success: %+v", o)
		}
	}
	s := Summarize(out)
	if s.Total != 3 || s.Succeeded != 3 || s.Attachments != 3 || s.AttachmentFailures != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestCollector_DuplicateRowRejected(t *testing.T) {
	c := NewCollector()
	first := item.WorkItem{Row: 1, URL: "a"}
	dup := item.WorkItem{Row: 1, URL: "b"}
	if !c.Start(first) {
		t.Fatal("first start should succeed")
	}
	if c.Start(dup) {
		t.Fatal("duplicate start should fail")
	}
	c.Reject(dup, item.KindParse, errors.New("duplicate row"))
	_ = c.Put(item.Outcome{Row: 1, URL: "a", Success: true})
	if err := c.Put(item.Outcome{Row: 1, URL: "a"}); err == nil {
		t.Fatal("second put for the same row should fail")
	}
	out := c.Finalize()
	if len(out) != 2 || out[0].URL != "a" || !out[0].Success || out[1].URL != "b" || out[1].Success {
		t.Fatalf("unexpected outcomes %+v", out)
	}
}

func TestCollector_HasOutcome(t *testing.T) {
	c := NewCollector()
	c.Start(item.WorkItem{Row: 7})
	if c.has(7) {
		t.Fatal("started row without outcome should not report an outcome")
	}
	_ = c.Put(item.Outcome{Row: 7})
	if !c.has(7) {
		t.Fatal("expected an outcome after Put")
	}
}
