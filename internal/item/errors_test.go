package item

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"plain", base, KindNetwork},
		{"render", Wrap(KindRender, "render", "", base), KindRender},
		{"wrapped twice", fmt.Errorf("outer: %w", Wrap(KindDownload, "get", "http://x", base)), KindDownload},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), KindCancelled},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: KindOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestWrap_KeepsCancellation(t *testing.T) {
	c := Cancelled("fetch", "http://a", nil)
	got := Wrap(KindNetwork, "fetch", "http://a", c)
	if KindOf(got) != KindCancelled {
		t.Fatalf("expected cancellation kind to survive, got %q", KindOf(got))
	}
	if !errors.Is(got, context.Canceled) {
		t.Fatalf("expected errors.Is(context.Canceled)")
	}
}

func TestOutcome_FailedAttachments(t *testing.T) {
	o := Outcome{Attachments: []AttachmentResult{
		{URL: "a", Path: "/tmp/a"},
		{URL: "b", Err: errors.New("404")},
	}}
	failed := o.FailedAttachments()
	if len(failed) != 1 || failed[0].URL != "b" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}
}
