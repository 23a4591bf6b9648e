package retry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct{ delays []time.Duration }

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func TestDo_AlwaysFailingRetryable(t *testing.T) {
	fs := &fakeSleep{}
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: fs.sleep}
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return &StatusError{Code: 503}
	})
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 calls, got calls=%d attempts=%d", calls, attempts)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 503 {
		t.Fatalf("expected last status error preserved, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(fs.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), fs.delays)
	}
	for i, d := range want {
		if fs.delays[i] != d {
			t.Fatalf("delay %d = %v, want %v", i, fs.delays[i], d)
		}
	}
}

func TestDelay_Schedule(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := p.Delay(i + 1); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	fs := &fakeSleep{}
	var retries []int
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: fs.sleep, OnRetry: func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}}
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return &StatusError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || len(retries) != 2 {
		t.Fatalf("expected 3 attempts and 2 retry events, got %d and %v", attempts, retries)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	cases := map[string]error{
		"404":           &StatusError{Code: 404},
		"malformed url": &url.Error{Op: "parse", URL: "::", Err: errors.New("missing protocol scheme")},
		"permanent":     Permanent(errors.New("too large")),
	}
	for name, failure := range cases {
		fs := &fakeSleep{}
		p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: fs.sleep}
		attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error { return failure })
		if attempts != 1 || err == nil {
			t.Fatalf("%s: expected single failing attempt, got %d %v", name, attempts, err)
		}
		if errors.Is(err, ErrExhausted) {
			t.Fatalf("%s: non-retryable error must not be reported as exhausted", name)
		}
		if len(fs.delays) != 0 {
			t.Fatalf("%s: expected no backoff, got %v", name, fs.delays)
		}
	}
}

func TestDo_429IsRetryable(t *testing.T) {
	fs := &fakeSleep{}
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: fs.sleep}
	attempts, _ := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return &StatusError{Code: 429}
	})
	if attempts != 2 {
		t.Fatalf("expected 429 to be retried, got %d attempts", attempts)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	done := make(chan struct{})
	var err error
	var attempts int
	go func() {
		attempts, err = p.Do(ctx, func(ctx context.Context, attempt int) error {
			return fmt.Errorf("dial: %w", context.DeadlineExceeded)
		})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not return promptly after cancellation")
	}
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after 1 attempt, got %d %v", attempts, err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 502}, true},
		{&StatusError{Code: 403}, false},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{errors.New("something else"), false},
	}
	for i, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("case %d (%v): got %v want %v", i, tc.err, got, tc.want)
		}
	}
}
