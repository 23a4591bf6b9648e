// Package fetch retrieves one page per work item with bounded retry, optional
// conditional revalidation against the page cache, and charset resolution.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goarchive/internal/cache"
	"github.com/hyperifyio/goarchive/internal/decode"
	"github.com/hyperifyio/goarchive/internal/item"
	"github.com/hyperifyio/goarchive/internal/retry"
)

// DefaultMaxBodyBytes caps a page body.
const DefaultMaxBodyBytes = 32 << 20

// Result is the outcome of fetching one page.
type Result struct {
	URL         string
	FinalURL    string
	Status      int
	Body        []byte
	ContentType string
	// Text and Encoding come from the charset cascade.
	Text     string
	Encoding string
	// Attempts counts HTTP attempts, including the first.
	Attempts  int
	FromCache bool
}

// Retries is Attempts minus the initial attempt.
func (r Result) Retries() int {
	if r.Attempts <= 1 {
		return 0
	}
	return r.Attempts - 1
}

// Client wraps http.Client with per-request timeouts, the shared retry
// policy and an optional on-disk cache.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// Header is added to every request after the browser defaults.
	Header http.Header
	// Retry bounds attempts; MaxAttempts includes the initial attempt.
	Retry retry.Policy
	// PerRequestTimeout bounds each attempt.
	PerRequestTimeout time.Duration
	// MaxBodyBytes caps the body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// Optional on-disk cache for page bodies and validators.
	Cache *cache.PageCache
	// If true, skip conditional headers but still save the latest response.
	BypassCache bool
	// Decoder resolves the body charset.
	Decoder decode.Resolver

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
	// MaxConcurrent limits concurrent in-flight requests per client instance.
	// Zero means unlimited.
	MaxConcurrent int

	limiter     chan struct{}
	limiterOnce sync.Once
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

type response struct {
	body        []byte
	contentType string
	etag        string
	lastMod     string
	status      int
	finalURL    string
}

// Get fetches rawURL. Transient failures (timeouts, connection errors, 429,
// 5xx) are retried per c.Retry; anything else fails at once. The returned
// Result carries Attempts even when err is non-nil.
func (c *Client) Get(ctx context.Context, rawURL string) (Result, error) {
	res := Result{URL: rawURL}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !isHTTPScheme(u) || u.Host == "" {
		res.Attempts = 1
		if err == nil {
			err = fmt.Errorf("unsupported URL %q", rawURL)
		}
		return res, item.Wrap(item.KindNetwork, "fetch", rawURL, err)
	}

	var meta *cache.PageEntry
	if c.Cache != nil && !c.BypassCache {
		if m, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && m.Validators() {
			meta = m
		}
	}

	var resp response
	attempts, err := c.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := c.tryOnce(ctx, u.String(), meta)
		if err != nil {
			log.Debug().Err(err).Str("url", rawURL).Int("attempt", attempt).Msg("fetch attempt failed")
			return err
		}
		if r.status == http.StatusNotModified {
			body, err := c.Cache.LoadBody(ctx, rawURL)
			if err != nil {
				// Validators without a body: revalidate unconditionally.
				c.Cache.Delete(rawURL)
				meta = nil
				if r, err = c.tryOnce(ctx, u.String(), nil); err != nil {
					return err
				}
			} else {
				r.body = body
				r.status = http.StatusOK
				r.contentType = firstNonEmpty(r.contentType, meta.ContentType)
				res.FromCache = true
			}
		}
		resp = r
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		return res, classifyErr(ctx, rawURL, err)
	}

	if c.Cache != nil && !res.FromCache {
		e := cache.PageEntry{URL: rawURL, FinalURL: resp.finalURL, ContentType: resp.contentType, ETag: resp.etag, LastModified: resp.lastMod}
		if err := c.Cache.Save(ctx, e, resp.body); err != nil {
			log.Warn().Err(err).Str("url", rawURL).Msg("page cache save failed")
		}
	}

	res.FinalURL = resp.finalURL
	res.Status = resp.status
	res.Body = resp.body
	res.ContentType = resp.contentType
	dec := c.Decoder.Resolve(resp.body, resp.contentType)
	res.Text = dec.Text
	res.Encoding = dec.Encoding
	log.Debug().Str("url", rawURL).Int("bytes", len(resp.body)).Str("encoding", dec.Encoding).Str("source", string(dec.Source)).Int("attempts", attempts).Bool("cached", res.FromCache).Msg("fetched")
	return res, nil
}

func classifyErr(ctx context.Context, rawURL string, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return item.Cancelled("fetch", rawURL, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return &item.Error{Kind: item.KindTimeout, Op: "fetch", URL: rawURL, Err: err}
	}
	return item.Wrap(item.KindNetwork, "fetch", rawURL, err)
}

func (c *Client) tryOnce(ctx context.Context, target string, meta *cache.PageEntry) (response, error) {
	if err := c.acquire(ctx); err != nil {
		return response{}, err
	}
	defer c.release()

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return response{}, retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	setBrowserHeaders(req, c.UserAgent)
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if meta != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		if errors.Is(err, errRedirect) {
			return response{}, retry.Permanent(err)
		}
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		etag:        resp.Header.Get("ETag"),
		lastMod:     resp.Header.Get("Last-Modified"),
		finalURL:    resp.Request.URL.String(),
	}
	if resp.StatusCode == http.StatusNotModified && meta != nil {
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return response{}, &retry.StatusError{Code: resp.StatusCode, URL: target}
	}
	if !isAllowedPageContentType(out.contentType) {
		return response{}, retry.Permanent(fmt.Errorf("unsupported content type: %s", out.contentType))
	}
	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return response{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return response{}, retry.Permanent(fmt.Errorf("body exceeds %d bytes", limit))
	}
	out.body = b
	return out, nil
}

// setBrowserHeaders mimics a desktop browser; several portals reject
// requests without Accept-Language.
func setBrowserHeaders(req *http.Request, ua string) {
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
}

var errRedirect = errors.New("redirect rejected")

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("%w: too many redirects", errRedirect)
		}
		// Only allow http/https during redirects
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return fmt.Errorf("%w: unsupported scheme", errRedirect)
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// isAllowedPageContentType accepts missing types and textual markup; binary
// downloads belong to the attachment path.
func isAllowedPageContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return true
	}
	return strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "application/xhtml+xml") || strings.HasPrefix(ct, "application/xml")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) acquire(ctx context.Context) error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
