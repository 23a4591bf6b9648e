package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/hyperifyio/goarchive/internal/app"
)

// errVersion asks main to print the version and exit.
var errVersion = errors.New("version requested")

// setters copies one flag's value from the flag-bound Config into the
// layered one. Only flags the user actually set are copied, so defaults
// never mask the file or env layers.
type setters map[string]func(dst *app.Config)

func track[T any](s setters, name string, src *app.Config, field func(*app.Config) *T) {
	s[name] = func(dst *app.Config) { *field(dst) = *field(src) }
}

// parseConfig layers defaults, config file, dotenv files, GOARCHIVE_* env
// and flags, in increasing precedence. A positional argument is the input.
func parseConfig(args []string) (app.Config, error) {
	fs := flag.NewFlagSet("goarchive", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: goarchive [flags] [input.csv]\n\nArchive every URL listed in a CSV file as a PDF plus its attachments.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fl := app.DefaultConfig()
	set := setters{}

	var (
		configPath  string
		envFiles    []string
		resume      bool
		showVersion bool
	)
	fs.StringVarP(&configPath, "config", "c", "", "YAML or JSON config file (env GOARCHIVE_CONFIG)")
	fs.StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading GOARCHIVE_* variables")
	fs.BoolVar(&resume, "resume", false, "Skip rows archived by earlier runs (ledger in the output directory unless --ledger is set)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	fs.StringVarP(&fl.Input, "input", "i", fl.Input, "CSV file listing the pages (url and optional title columns)")
	track(set, "input", &fl, func(c *app.Config) *string { return &c.Input })
	fs.StringVarP(&fl.OutputDir, "output", "o", fl.OutputDir, "Output directory, one subdirectory per row")
	track(set, "output", &fl, func(c *app.Config) *string { return &c.OutputDir })
	fs.StringVar(&fl.ReportPath, "report", fl.ReportPath, "JSON report path (default <output>/report.json)")
	track(set, "report", &fl, func(c *app.Config) *string { return &c.ReportPath })
	fs.StringVar(&fl.ResultsPath, "results", fl.ResultsPath, "Optional CSV of per-row status")
	track(set, "results", &fl, func(c *app.Config) *string { return &c.ResultsPath })

	fs.IntVar(&fl.PageConcurrency, "pages", fl.PageConcurrency, "Concurrent page workers")
	track(set, "pages", &fl, func(c *app.Config) *int { return &c.PageConcurrency })
	fs.IntVar(&fl.DownloadConcurrency, "downloads", fl.DownloadConcurrency, "Concurrent attachment downloads")
	track(set, "downloads", &fl, func(c *app.Config) *int { return &c.DownloadConcurrency })
	fs.DurationVar(&fl.PerItemTimeout, "timeout.item", fl.PerItemTimeout, "Deadline for fetch, extract and render of one page (0 disables)")
	track(set, "timeout.item", &fl, func(c *app.Config) *time.Duration { return &c.PerItemTimeout })
	fs.DurationVar(&fl.RunTimeout, "timeout.run", fl.RunTimeout, "Deadline for the whole run (0 disables)")
	track(set, "timeout.run", &fl, func(c *app.Config) *time.Duration { return &c.RunTimeout })
	fs.DurationVar(&fl.RequestTimeout, "timeout.request", fl.RequestTimeout, "Deadline for one HTTP attempt")
	track(set, "timeout.request", &fl, func(c *app.Config) *time.Duration { return &c.RequestTimeout })
	fs.IntVar(&fl.RetryMaxAttempts, "retry.attempts", fl.RetryMaxAttempts, "Attempts per request, including the first")
	track(set, "retry.attempts", &fl, func(c *app.Config) *int { return &c.RetryMaxAttempts })
	fs.DurationVar(&fl.RetryBaseDelay, "retry.delay", fl.RetryBaseDelay, "Backoff before the first retry; doubles each time")
	track(set, "retry.delay", &fl, func(c *app.Config) *time.Duration { return &c.RetryBaseDelay })

	fs.StringSliceVar(&fl.AttachmentExtensions, "attachments.ext", fl.AttachmentExtensions, "Link extensions treated as attachments")
	track(set, "attachments.ext", &fl, func(c *app.Config) *[]string { return &c.AttachmentExtensions })
	fs.Int64Var(&fl.MaxAttachmentBytes, "attachments.maxBytes", fl.MaxAttachmentBytes, "Largest attachment accepted (0 = unlimited)")
	track(set, "attachments.maxBytes", &fl, func(c *app.Config) *int64 { return &c.MaxAttachmentBytes })
	fs.Float64Var(&fl.EncodingConfidenceThreshold, "encoding.threshold", fl.EncodingConfidenceThreshold, "Minimum detector confidence")
	track(set, "encoding.threshold", &fl, func(c *app.Config) *float64 { return &c.EncodingConfidenceThreshold })
	fs.StringSliceVar(&fl.EncodingCandidates, "encoding.candidates", fl.EncodingCandidates, "Encodings tried in order when detection fails")
	track(set, "encoding.candidates", &fl, func(c *app.Config) *[]string { return &c.EncodingCandidates })
	fs.StringSliceVar(&fl.FontFallbackList, "fonts", fl.FontFallbackList, "TrueType fonts in fallback order")
	track(set, "fonts", &fl, func(c *app.Config) *[]string { return &c.FontFallbackList })
	fs.IntVar(&fl.MaxBlocks, "max.blocks", fl.MaxBlocks, "Paragraphs and headings kept per page")
	track(set, "max.blocks", &fl, func(c *app.Config) *int { return &c.MaxBlocks })

	fs.StringVar(&fl.UserAgent, "http.ua", fl.UserAgent, "User-Agent header")
	track(set, "http.ua", &fl, func(c *app.Config) *string { return &c.UserAgent })
	fs.Int64Var(&fl.MaxPageBytes, "http.maxPageBytes", fl.MaxPageBytes, "Largest page body accepted")
	track(set, "http.maxPageBytes", &fl, func(c *app.Config) *int64 { return &c.MaxPageBytes })
	fs.BoolVar(&fl.InsecureTLS, "http.insecure", fl.InsecureTLS, "Skip TLS certificate verification")
	track(set, "http.insecure", &fl, func(c *app.Config) *bool { return &c.InsecureTLS })

	fs.StringVar(&fl.CacheDir, "cache.dir", fl.CacheDir, "Page cache directory (empty disables)")
	track(set, "cache.dir", &fl, func(c *app.Config) *string { return &c.CacheDir })
	fs.DurationVar(&fl.CacheMaxAge, "cache.maxAge", fl.CacheMaxAge, "Purge cache entries older than this before the run (0 disables)")
	track(set, "cache.maxAge", &fl, func(c *app.Config) *time.Duration { return &c.CacheMaxAge })
	fs.BoolVar(&fl.CacheClear, "cache.clear", fl.CacheClear, "Clear the cache before the run")
	track(set, "cache.clear", &fl, func(c *app.Config) *bool { return &c.CacheClear })
	fs.BoolVar(&fl.CacheStrictPerms, "cache.strictPerms", fl.CacheStrictPerms, "Restrict cache permissions (0700 dirs, 0600 files)")
	track(set, "cache.strictPerms", &fl, func(c *app.Config) *bool { return &c.CacheStrictPerms })
	fs.Int64Var(&fl.CacheMaxBytes, "cache.maxBytes", fl.CacheMaxBytes, "Trim the cache to this size after the run (0 disables)")
	track(set, "cache.maxBytes", &fl, func(c *app.Config) *int64 { return &c.CacheMaxBytes })
	fs.IntVar(&fl.CacheMaxEntries, "cache.maxEntries", fl.CacheMaxEntries, "Trim the cache to this many pages after the run (0 disables)")
	track(set, "cache.maxEntries", &fl, func(c *app.Config) *int { return &c.CacheMaxEntries })

	fs.StringVar(&fl.LedgerPath, "ledger", fl.LedgerPath, "SQLite ledger of archived rows; enables resume")
	track(set, "ledger", &fl, func(c *app.Config) *string { return &c.LedgerPath })
	fs.BoolVarP(&fl.Verbose, "verbose", "v", fl.Verbose, "Verbose logging")
	track(set, "verbose", &fl, func(c *app.Config) *bool { return &c.Verbose })
	fs.BoolVar(&fl.LogJSON, "log.json", fl.LogJSON, "Log JSON lines instead of console output")
	track(set, "log.json", &fl, func(c *app.Config) *bool { return &c.LogJSON })

	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}
	if showVersion {
		return app.Config{}, errVersion
	}

	if err := app.LoadEnvFiles(envFiles...); err != nil {
		return app.Config{}, fmt.Errorf("load env files: %w", err)
	}
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv(app.EnvPrefix + "CONFIG"))
	}

	cfg := app.DefaultConfig()
	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return app.Config{}, fmt.Errorf("load config %s: %w", configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	if err := app.ApplyEnvOverrides(&cfg); err != nil {
		return app.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply(&cfg)
		}
	})
	if fs.NArg() > 0 && !fs.Changed("input") {
		cfg.Input = fs.Arg(0)
	}
	if resume && cfg.LedgerPath == "" {
		cfg.LedgerPath = app.DefaultLedgerPath(cfg.OutputDir)
	}
	return cfg, app.ValidateConfig(cfg)
}
