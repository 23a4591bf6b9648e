package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/hyperifyio/goarchive/internal/cache"
	"github.com/hyperifyio/goarchive/internal/decode"
	"github.com/hyperifyio/goarchive/internal/item"
	"github.com/hyperifyio/goarchive/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newClient(attempts int) *Client {
	return &Client{
		UserAgent:         "goarchive-test",
		Retry:             retry.Policy{MaxAttempts: attempts, BaseDelay: time.Second, Sleep: noSleep},
		PerRequestTimeout: 2 * time.Second,
	}
}

func TestGet_Success(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	res, err := newClient(2).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 || res.Attempts != 1 || res.Retries() != 0 || res.Encoding != "utf-8" || res.Text == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotUA != "goarchive-test" || gotLang == "" {
		t.Fatalf("browser headers not sent: ua=%q lang=%q", gotUA, gotLang)
	}
}

func TestGet_DecodesGBKWithoutHeader(t *testing.T) {
	body, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("<html><head><title>测试页面</title></head><body><p>正文内容</p></body></html>"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := newClient(1)
	c.Decoder = decode.Resolver{Detector: decode.DetectorFunc(func([]byte) (string, float64, bool) { return "", 0, false })}
	res, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Encoding != "gbk" {
		t.Fatalf("expected gbk, got %q", res.Encoding)
	}
	if want := "测试页面"; !strings.Contains(res.Text, want) {
		t.Fatalf("expected %q in decoded text, got %q", want, res.Text)
	}
}

// Two 503s then success: three attempts, two retries, backoff 1s and 2s.
func TestGet_RetryOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newClient(3)
	c.Retry.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }
	res, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if res.Attempts != 3 || res.Retries() != 2 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected backoff schedule %v", delays)
	}
}

func TestGet_ExhaustedIsNetworkError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := newClient(3).Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, retry.ErrExhausted) || item.KindOf(err) != item.KindNetwork {
		t.Fatalf("expected exhausted network error, got %v", err)
	}
	if res.Attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d (%d calls)", res.Attempts, calls)
	}
}

func TestGet_404NotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	res, err := newClient(3).Get(context.Background(), srv.URL)
	var se *retry.StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if res.Attempts != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("404 must not be retried: attempts=%d calls=%d", res.Attempts, calls)
	}
}

func TestGet_Conditional304_UsesCache(t *testing.T) {
	var calls int32
	etag := `"abc123"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		if n == 1 {
			w.Header().Set("ETag", etag)
			_, _ = w.Write([]byte("first"))
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprintln(w, "unexpected")
	}))
	defer srv.Close()

	c := newClient(1)
	c.Cache = &cache.PageCache{Dir: t.TempDir()}

	r1, err := c.Get(context.Background(), srv.URL)
	if err != nil || string(r1.Body) != "first" || r1.FromCache {
		t.Fatalf("first get: %+v %v", r1, err)
	}
	r2, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second get error: %v", err)
	}
	if string(r2.Body) != "first" || !r2.FromCache || r2.Status != 200 {
		t.Fatalf("expected cached body, got %+v", r2)
	}
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"file:///etc/hosts", "://bad", "http://"} {
		res, err := newClient(3).Get(context.Background(), u)
		if err == nil {
			t.Fatalf("expected error for %q", u)
		}
		if res.Attempts != 1 {
			t.Fatalf("malformed URL %q must fail on the first attempt, got %d", u, res.Attempts)
		}
	}
}

func TestGet_ContentTypeGating(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	if _, err := newClient(3).Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for unsupported content type")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("content type rejection must not be retried, got %d calls", calls)
	}
}

func TestGet_RedirectLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			atomic.AddInt32(&calls, 1)
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newClient(3)
	c.RedirectMaxHops = 1
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected redirect limit error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("redirect rejection must not be retried, got %d calls", calls)
	}
}

func TestGet_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	c := newClient(1)
	c.MaxBodyBytes = 100
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected body limit error")
	}
}

func TestGet_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newClient(5)
	c.Retry.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	_, err := c.Get(ctx, srv.URL)
	if item.KindOf(err) != item.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestGet_MaxConcurrent(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := newClient(1)
	c.MaxConcurrent = 2

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Get(context.Background(), srv.URL)
		}()
	}
	close(start)
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", maxObserved)
	}
}
