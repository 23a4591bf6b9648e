package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goarchive/internal/cache"
	"github.com/hyperifyio/goarchive/internal/decode"
	"github.com/hyperifyio/goarchive/internal/download"
	"github.com/hyperifyio/goarchive/internal/extract"
	"github.com/hyperifyio/goarchive/internal/fetch"
	"github.com/hyperifyio/goarchive/internal/layout"
	"github.com/hyperifyio/goarchive/internal/ledger"
	"github.com/hyperifyio/goarchive/internal/pipeline"
	"github.com/hyperifyio/goarchive/internal/render"
	"github.com/hyperifyio/goarchive/internal/retry"
)

// App owns the long-lived pieces of one archiving run: HTTP client, page
// cache, font registry, downloader and ledger.
type App struct {
	cfg        Config
	runID      string
	pageCache  *cache.PageCache
	fonts      *render.Registry
	ledger     *ledger.Store
	downloader *download.Downloader
	sched      *pipeline.Scheduler
}

// New validates cfg and builds the run. Font loading happens here so a
// missing font is reported before any page is fetched.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, runID: uuid.NewString()}

	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			if n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
				log.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				log.Info().Int("removed", n).Dur("max_age", cfg.CacheMaxAge).Msg("purged stale cache entries")
			}
		}
		a.pageCache = &cache.PageCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	if cfg.LedgerPath != "" {
		st, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.ledger = st
		if n, err := st.Count(ctx); err != nil {
			log.Warn().Err(err).Msg("ledger count failed")
		} else {
			log.Info().Str("path", cfg.LedgerPath).Int("archived", n).Msg("ledger opened")
		}
	}

	a.fonts = render.NewRegistry(cfg.FontFallbackList)
	if _, err := a.fonts.Faces(); err != nil {
		log.Warn().Err(err).Msg("documents cannot be rendered; pages will still be fetched and attachments downloaded")
	}

	hc := newHTTPClient(cfg)
	pol := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}

	fetcher := &fetch.Client{
		HTTPClient:        hc,
		UserAgent:         cfg.UserAgent,
		Retry:             pol,
		PerRequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:      cfg.MaxPageBytes,
		Cache:             a.pageCache,
		Decoder:           decode.Resolver{Threshold: cfg.EncodingConfidenceThreshold, Candidates: cfg.EncodingCandidates},
		MaxConcurrent:     cfg.PageConcurrency,
	}
	a.downloader = download.New(download.Options{
		HTTPClient:  hc,
		UserAgent:   cfg.UserAgent,
		Concurrency: cfg.DownloadConcurrency,
		Retry:       pol,
		// Attachments stream for longer than a page; headers are still
		// bounded by the transport's ResponseHeaderTimeout.
		PerRequestTimeout: 10 * cfg.RequestTimeout,
		MaxBytes:          cfg.MaxAttachmentBytes,
	})

	ex := extract.NewHeuristic(cfg.AttachmentExtensions)
	ex.MaxBlocks = cfg.MaxBlocks

	a.sched = &pipeline.Scheduler{
		Fetcher:         fetcher,
		Extractor:       ex,
		Downloader:      a.downloader,
		Renderer:        &render.Renderer{Fonts: a.fonts, MaxBlocks: cfg.MaxBlocks, Author: "goarchive " + BuildVersion},
		Layout:          layout.Layout{Root: cfg.OutputDir},
		PageConcurrency: cfg.PageConcurrency,
		PerItemTimeout:  cfg.PerItemTimeout,
		RunID:           a.runID,
	}
	if a.ledger != nil {
		a.sched.Ledger = a.ledger
	}
	return a, nil
}

// RunID identifies this run in logs, the report and the ledger.
func (a *App) RunID() string { return a.runID }

// Close releases fonts and the ledger.
func (a *App) Close() {
	if a.fonts != nil {
		_ = a.fonts.Close()
	}
	if err := a.ledger.Close(); err != nil {
		log.Warn().Err(err).Msg("ledger close failed")
	}
}

// Run archives every row of the input and writes the report. Row failures are
// reported, not returned; the error is reserved for unreadable input and an
// unwritable report. A cancelled ctx still yields a complete report.
func (a *App) Run(ctx context.Context) (Report, error) {
	rows, err := LoadRows(a.cfg.Input)
	if err != nil {
		return Report{}, err
	}
	if a.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}
	log.Info().Int("rows", len(rows)).Str("input", a.cfg.Input).Str("output", a.cfg.OutputDir).Msg("run started")

	started := time.Now().UTC()
	outcomes := a.sched.Run(ctx, rows)
	a.downloader.Wait()
	finished := time.Now().UTC()

	if a.pageCache != nil && (a.cfg.CacheMaxBytes > 0 || a.cfg.CacheMaxEntries > 0) {
		if n, err := cache.EnforceLimits(a.cfg.CacheDir, a.cfg.CacheMaxBytes, a.cfg.CacheMaxEntries); err != nil {
			log.Warn().Err(err).Msg("cache limit enforcement failed")
		} else if n > 0 {
			log.Debug().Int("removed", n).Msg("cache trimmed")
		}
	}

	rep := BuildReport(ReportMeta{
		RunID:               a.runID,
		Version:             BuildVersion,
		Input:               a.cfg.Input,
		OutputDir:           a.cfg.OutputDir,
		PageConcurrency:     a.cfg.PageConcurrency,
		DownloadConcurrency: a.cfg.DownloadConcurrency,
		HTTPCache:           a.pageCache != nil,
		Ledger:              a.ledger != nil,
		Cancelled:           ctx.Err() != nil,
		Started:             started,
		Finished:            finished,
	}, a.sched.Layout, outcomes)

	path := a.cfg.reportPath()
	if err := WriteReport(path, rep); err != nil {
		return rep, fmt.Errorf("write report: %w", err)
	}
	log.Info().Str("path", path).Msg("wrote report")
	if a.cfg.ResultsPath != "" {
		if err := WriteResultsCSV(a.cfg.ResultsPath, rep); err != nil {
			return rep, fmt.Errorf("write results: %w", err)
		}
		log.Info().Str("path", a.cfg.ResultsPath).Msg("wrote results")
	}
	return rep, nil
}
