// Package download transfers attachment files through a bounded pool shared
// by every page of a run. Transfers stream to a .part file that is renamed
// into place only after a complete, synced write.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/hyperifyio/goarchive/internal/item"
	"github.com/hyperifyio/goarchive/internal/retry"
)

// DefaultChunkSize is the copy buffer for streaming bodies.
const DefaultChunkSize = 32 << 10

// ErrTooLarge aborts a transfer that exceeds MaxBytes.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Options configures a Downloader.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// Concurrency is the number of simultaneous transfers. Minimum 1.
	Concurrency int
	Retry       retry.Policy
	// PerRequestTimeout bounds each attempt. Zero means none.
	PerRequestTimeout time.Duration
	ChunkSize         int
	// MaxBytes rejects larger files. Zero means unlimited.
	MaxBytes int64
}

// Downloader runs submitted tasks on its own bounded pool.
type Downloader struct {
	opts Options
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// New returns a Downloader with opts applied.
func New(opts Options) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Downloader{opts: opts, sem: semaphore.NewWeighted(int64(opts.Concurrency))}
}

// Submit queues t and returns at once. The channel yields exactly one result
// and is then closed. If ctx ends before a slot frees, the result is a
// cancelled failure and no request is made.
func (d *Downloader) Submit(ctx context.Context, t Task) <-chan item.AttachmentResult {
	ch := make(chan item.AttachmentResult, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ch)
		if err := d.sem.Acquire(ctx, 1); err != nil {
			ch <- item.AttachmentResult{Row: t.Row, Index: t.Index, URL: t.URL, Err: item.Cancelled("download", t.URL, err)}
			return
		}
		defer d.sem.Release(1)
		ch <- d.Run(ctx, &t)
	}()
	return ch
}

// Wait blocks until every submitted task has produced its result.
func (d *Downloader) Wait() { d.wg.Wait() }

// Run transfers t synchronously, retrying transient failures. Attempts are
// strictly sequential and every retry starts from an empty file.
func (d *Downloader) Run(ctx context.Context, t *Task) item.AttachmentResult {
	res := item.AttachmentResult{Row: t.Row, Index: t.Index, URL: t.URL}
	var written int64
	attempts, err := d.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := t.transition(InFlight); err != nil {
			return retry.Permanent(err)
		}
		n, err := d.attempt(ctx, t)
		if err != nil {
			_ = t.transition(Failed)
			log.Debug().Err(err).Int("row", t.Row).Str("url", t.URL).Int("attempt", t.Attempt).Msg("attachment attempt failed")
			return err
		}
		written = n
		return t.transition(Succeeded)
	})
	res.Attempts = attempts
	if err != nil {
		if t.Status == InFlight {
			_ = t.transition(Failed)
		}
		switch {
		case ctx.Err() != nil && errors.Is(err, context.Canceled):
			res.Err = item.Cancelled("download", t.URL, err)
		case ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
			res.Err = &item.Error{Kind: item.KindTimeout, Op: "download", URL: t.URL, Err: err}
		default:
			res.Err = item.Wrap(item.KindDownload, "download", t.URL, err)
		}
		log.Warn().Err(err).Int("row", t.Row).Str("url", t.URL).Int("attempts", attempts).Msg("attachment failed")
		return res
	}
	res.Path = t.Dest
	res.Bytes = written
	log.Debug().Int("row", t.Row).Str("path", t.Dest).Int64("bytes", written).Msg("attachment saved")
	return res
}

func (d *Downloader) attempt(ctx context.Context, t *Task) (n int64, err error) {
	if d.opts.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	if t.Referer != "" {
		req.Header.Set("Referer", t.Referer)
	}
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &retry.StatusError{Code: resp.StatusCode, URL: t.URL}
	}
	if d.opts.MaxBytes > 0 && resp.ContentLength > d.opts.MaxBytes {
		return 0, retry.Permanent(fmt.Errorf("%w: %d > %d", ErrTooLarge, resp.ContentLength, d.opts.MaxBytes))
	}

	if err := os.MkdirAll(filepath.Dir(t.Dest), 0o755); err != nil {
		return 0, retry.Permanent(fmt.Errorf("create dir: %w", err))
	}
	part := t.Dest + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create part file: %w", err))
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(part)
		}
	}()

	var src io.Reader = resp.Body
	if d.opts.MaxBytes > 0 {
		src = io.LimitReader(resp.Body, d.opts.MaxBytes+1)
	}
	// Hide ReadFrom so the copy honours the chunk size.
	n, err = io.CopyBuffer(struct{ io.Writer }{f}, src, make([]byte, d.opts.ChunkSize))
	if err != nil {
		return n, fmt.Errorf("stream body: %w", err)
	}
	if d.opts.MaxBytes > 0 && n > d.opts.MaxBytes {
		err = retry.Permanent(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.opts.MaxBytes))
		return n, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("short body: %d of %d bytes: %w", n, resp.ContentLength, io.ErrUnexpectedEOF)
		return n, err
	}
	if err = f.Sync(); err != nil {
		return n, retry.Permanent(fmt.Errorf("sync: %w", err))
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(part)
		return n, retry.Permanent(fmt.Errorf("close: %w", err))
	}
	if err = os.Rename(part, t.Dest); err != nil {
		_ = os.Remove(part)
		return n, retry.Permanent(fmt.Errorf("rename: %w", err))
	}
	return n, nil
}
