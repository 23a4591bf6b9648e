package app

import (
	"errors"
	"strings"
	"time"

	"github.com/hyperifyio/goarchive/internal/decode"
	"github.com/hyperifyio/goarchive/internal/extract"
	"github.com/hyperifyio/goarchive/internal/render"
)

// Config holds runtime configuration for the application.
type Config struct {
	Input     string
	OutputDir string
	// ReportPath defaults to <OutputDir>/report.json.
	ReportPath string
	// ResultsPath, when set, receives a CSV copy of the per-row status.
	ResultsPath string

	// Concurrency and timing
	PageConcurrency     int
	DownloadConcurrency int
	PerItemTimeout      time.Duration
	RunTimeout          time.Duration
	RequestTimeout      time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration

	// Extraction, decoding and rendering
	AttachmentExtensions        []string
	EncodingConfidenceThreshold float64
	EncodingCandidates          []string
	FontFallbackList            []string
	MaxBlocks                   int

	// HTTP
	UserAgent          string
	MaxPageBytes       int64
	MaxAttachmentBytes int64
	// InsecureTLS skips certificate verification.
	InsecureTLS bool

	// Page cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	// CacheMaxBytes and CacheMaxEntries trim the cache after a run. Zero disables.
	CacheMaxBytes   int64
	CacheMaxEntries int

	// Resume ledger; empty disables resume.
	LedgerPath string

	Verbose bool
	LogJSON bool
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 goarchive/1.0"

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		OutputDir:                   "output",
		PageConcurrency:             5,
		DownloadConcurrency:         8,
		PerItemTimeout:              2 * time.Minute,
		RequestTimeout:              30 * time.Second,
		RetryMaxAttempts:            3,
		RetryBaseDelay:              time.Second,
		AttachmentExtensions:        append([]string(nil), extract.DefaultExtensions...),
		EncodingConfidenceThreshold: decode.DefaultThreshold,
		EncodingCandidates:          append([]string(nil), decode.DefaultCandidates...),
		FontFallbackList:            render.DefaultFontFallbackList(),
		MaxBlocks:                   500,
		UserAgent:                   defaultUserAgent,
		MaxPageBytes:                32 << 20,
		MaxAttachmentBytes:          200 << 20,
		CacheDir:                    ".goarchive-cache",
	}
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return errors.New("config: input path is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output directory is required")
	}
	if cfg.PageConcurrency <= 0 || cfg.DownloadConcurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return errors.New("config: retry.maxAttempts must be positive")
	}
	if cfg.RetryBaseDelay < 0 || cfg.PerItemTimeout < 0 || cfg.RunTimeout < 0 || cfg.RequestTimeout < 0 || cfg.CacheMaxAge < 0 {
		return errors.New("config: negative durations are not allowed")
	}
	if cfg.EncodingConfidenceThreshold < 0 || cfg.EncodingConfidenceThreshold > 1 {
		return errors.New("config: encoding.threshold must be between 0 and 1")
	}
	if cfg.MaxBlocks < 0 || cfg.MaxPageBytes < 0 || cfg.MaxAttachmentBytes < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxEntries < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	return nil
}

// reportPath resolves the report location.
func (c Config) reportPath() string {
	if strings.TrimSpace(c.ReportPath) != "" {
		return c.ReportPath
	}
	return defaultReportPath(c.OutputDir)
}
