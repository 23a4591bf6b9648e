// Package pipeline schedules work items across a bounded pool of page
// workers. Each worker fetches, extracts, hands attachments to the shared
// downloader and renders; outcomes come back sorted by row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/goarchive/internal/aggregate"
	"github.com/hyperifyio/goarchive/internal/download"
	"github.com/hyperifyio/goarchive/internal/extract"
	"github.com/hyperifyio/goarchive/internal/fetch"
	"github.com/hyperifyio/goarchive/internal/item"
	"github.com/hyperifyio/goarchive/internal/layout"
	"github.com/hyperifyio/goarchive/internal/ledger"
	"github.com/hyperifyio/goarchive/internal/render"
)

// Fetcher retrieves and decodes one page.
type Fetcher interface {
	Get(ctx context.Context, url string) (fetch.Result, error)
}

// Downloader runs attachment transfers on its own pool.
type Downloader interface {
	Submit(ctx context.Context, t download.Task) <-chan item.AttachmentResult
}

// Renderer writes the document for one page.
type Renderer interface {
	Render(ctx context.Context, c extract.Content, path string) (render.Document, error)
}

// Ledger remembers archived rows across runs.
type Ledger interface {
	Lookup(ctx context.Context, row int, url string) (ledger.Entry, bool, error)
	Record(ctx context.Context, runID string, o item.Outcome) error
}

// Scheduler wires the stages together. Ledger is optional.
type Scheduler struct {
	Fetcher    Fetcher
	Extractor  extract.Extractor
	Downloader Downloader
	Renderer   Renderer
	Layout     layout.Layout
	Ledger     Ledger

	// PageConcurrency is the number of page workers. Minimum 1.
	PageConcurrency int
	// PerItemTimeout bounds fetch, extract and render of one item. Zero means none.
	PerItemTimeout time.Duration
	RunID          string
}

// Run processes items and returns exactly one outcome per item, sorted by row.
// Cancelling ctx marks unstarted items cancelled at once and aborts in-flight
// fetches, renders and downloads; their outcomes are still returned.
func (s *Scheduler) Run(ctx context.Context, items []item.WorkItem) []item.Outcome {
	workers := s.PageConcurrency
	if workers <= 0 {
		workers = 1
	}
	col := aggregate.NewCollector()
	jobs := make(chan item.WorkItem)
	var finishers sync.WaitGroup

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for i, it := range items {
			if !col.Start(it) {
				log.Warn().Int("row", it.Row).Str("url", it.URL).Msg("duplicate row index")
				col.Reject(it, item.KindParse, fmt.Errorf("duplicate row index %d", it.Row))
				continue
			}
			select {
			case jobs <- it:
			case <-ctx.Done():
				s.cancelRemaining(ctx, col, it, items[i+1:])
				return nil
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for it := range jobs {
				s.process(ctx, col, &finishers, it)
			}
			return nil
		})
	}
	// Stage failures become outcomes, so no goroutine returns an error.
	_ = g.Wait()
	finishers.Wait()

	out := col.Finalize()
	st := aggregate.Summarize(out)
	log.Info().Int("total", st.Total).Int("succeeded", st.Succeeded).Int("failed", st.Failed).Int("resumed", st.Resumed).Int("attachments", st.Attachments).Int("attachment_failures", st.AttachmentFailures).Msg("run finished")
	return out
}

// cancelRemaining records current (already started) and every later item as
// cancelled without doing any work.
func (s *Scheduler) cancelRemaining(ctx context.Context, col *aggregate.Collector, current item.WorkItem, rest []item.WorkItem) {
	now := time.Now().UTC()
	put := func(it item.WorkItem) {
		err := item.Cancelled("schedule", it.URL, context.Cause(ctx))
		_ = col.Put(item.Outcome{Row: it.Row, URL: it.URL, Title: it.Title, Kind: item.KindCancelled, Err: err, Started: now, Finished: now})
	}
	put(current)
	for _, it := range rest {
		if !col.Start(it) {
			col.Reject(it, item.KindParse, fmt.Errorf("duplicate row index %d", it.Row))
			continue
		}
		put(it)
	}
	log.Warn().Int("cancelled", len(rest)+1).Msg("run cancelled; unstarted items marked")
}

func (s *Scheduler) process(ctx context.Context, col *aggregate.Collector, finishers *sync.WaitGroup, it item.WorkItem) {
	o := item.Outcome{Row: it.Row, URL: it.URL, Title: it.Title, Started: time.Now().UTC()}
	logger := log.With().Int("row", it.Row).Str("url", it.URL).Logger()

	finish := func(err error) {
		o.Finished = time.Now().UTC()
		if err != nil {
			o.Err = err
			o.Kind = item.KindOf(err)
			logger.Warn().Err(err).Str("kind", string(o.Kind)).Msg("item failed")
		}
		if perr := col.Put(o); perr != nil {
			logger.Error().Err(perr).Msg("outcome dropped")
		}
	}

	if err := ctx.Err(); err != nil {
		finish(item.Cancelled("schedule", it.URL, err))
		return
	}
	if s.Ledger != nil {
		e, ok, err := s.Ledger.Lookup(ctx, it.Row, it.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("ledger lookup failed")
		} else if ok {
			o = e.Outcome()
			if it.Title != "" {
				o.Title = it.Title
			}
			logger.Info().Str("path", e.DocumentPath).Msg("already archived; skipping")
			finish(nil)
			return
		}
	}

	ictx := ctx
	if s.PerItemTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, s.PerItemTimeout)
		defer cancel()
	}

	res, err := s.Fetcher.Get(ictx, it.URL)
	o.FetchRetries = res.Retries()
	if err != nil {
		finish(classify(ctx, ictx, item.KindNetwork, "fetch", it.URL, err))
		return
	}
	o.Encoding = res.Encoding

	base := res.FinalURL
	if base == "" {
		base = it.URL
	}
	content := s.Extractor.Extract(res.Text, base)
	o.Degraded = content.Degraded
	if o.Title == "" {
		o.Title = content.Title
	}
	if err := ictx.Err(); err != nil {
		finish(classify(ctx, ictx, item.KindParse, "extract", it.URL, err))
		return
	}

	if err := s.Layout.Ensure(it); err != nil {
		finish(item.Wrap(item.KindRender, "layout", it.URL, err))
		return
	}

	// Downloads use the run context: a slow page render must not cut short
	// transfers that are already queued.
	chans := make([]<-chan item.AttachmentResult, 0, len(content.Attachments))
	for i, a := range content.Attachments {
		idx := i + 1
		chans = append(chans, s.Downloader.Submit(ctx, download.Task{
			Row:     it.Row,
			Index:   idx,
			URL:     a.URL,
			Name:    a.Name,
			Dest:    s.Layout.AttachmentPath(it, idx, a.Name, a.URL),
			Referer: base,
		}))
	}

	doc, err := s.Renderer.Render(ictx, content, s.Layout.DocumentPath(it))
	if err != nil {
		finish(classify(ctx, ictx, item.KindRender, "render", it.URL, err))
	} else {
		o.Success = true
		o.DocumentPath = doc.Path
		o.Pages = doc.Pages
		finish(nil)
		logger.Info().Str("path", doc.Path).Int("pages", doc.Pages).Int("attachments", len(chans)).Int("retries", o.FetchRetries).Str("encoding", o.Encoding).Msg("page archived")
	}

	finishers.Add(1)
	go func(o item.Outcome) {
		defer finishers.Done()
		okCount, failed := 0, 0
		for _, ch := range chans {
			r := <-ch
			col.Attach(r)
			if r.OK() {
				okCount++
			} else {
				failed++
			}
		}
		if !o.Success || failed > 0 || s.Ledger == nil {
			return
		}
		o.AttachmentCount = okCount
		if err := s.Ledger.Record(context.WithoutCancel(ctx), s.RunID, o); err != nil {
			logger.Warn().Err(err).Msg("ledger record failed")
		}
	}(o)
}

// classify maps a stage error to its kind: run cancellation wins, then the
// per-item deadline, then the stage's own kind.
func classify(runCtx, itemCtx context.Context, kind item.Kind, op, url string, err error) error {
	switch {
	case runCtx.Err() != nil:
		if item.KindOf(err) == item.KindCancelled {
			return err
		}
		return item.Cancelled(op, url, err)
	case errors.Is(itemCtx.Err(), context.DeadlineExceeded):
		if item.KindOf(err) == item.KindTimeout {
			return err
		}
		return &item.Error{Kind: item.KindTimeout, Op: op, URL: url, Err: err}
	}
	return item.Wrap(kind, op, url, err)
}
