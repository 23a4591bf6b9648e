package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment variable read by ApplyEnvOverrides.
const EnvPrefix = "GOARCHIVE_"

// envConfig mirrors Config with pointer fields so unset variables stay nil and
// leave the layer below untouched.
type envConfig struct {
	Input       *string `env:"INPUT"`
	OutputDir   *string `env:"OUTPUT_DIR"`
	ReportPath  *string `env:"REPORT"`
	ResultsPath *string `env:"RESULTS"`

	PageConcurrency     *int           `env:"PAGE_CONCURRENCY"`
	DownloadConcurrency *int           `env:"DOWNLOAD_CONCURRENCY"`
	PerItemTimeout      *time.Duration `env:"PER_ITEM_TIMEOUT"`
	RunTimeout          *time.Duration `env:"RUN_TIMEOUT"`
	RequestTimeout      *time.Duration `env:"REQUEST_TIMEOUT"`
	RetryMaxAttempts    *int           `env:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay      *time.Duration `env:"RETRY_BASE_DELAY"`

	AttachmentExtensions        []string `env:"ATTACHMENT_EXTENSIONS" envSeparator:","`
	EncodingConfidenceThreshold *float64 `env:"ENCODING_THRESHOLD"`
	EncodingCandidates          []string `env:"ENCODING_CANDIDATES" envSeparator:","`
	FontFallbackList            []string `env:"FONTS" envSeparator:","`
	MaxBlocks                   *int     `env:"MAX_BLOCKS"`

	UserAgent          *string `env:"USER_AGENT"`
	MaxPageBytes       *int64  `env:"MAX_PAGE_BYTES"`
	MaxAttachmentBytes *int64  `env:"MAX_ATTACHMENT_BYTES"`
	InsecureTLS        *bool   `env:"INSECURE_TLS"`

	CacheDir         *string        `env:"CACHE_DIR"`
	CacheMaxAge      *time.Duration `env:"CACHE_MAX_AGE"`
	CacheClear       *bool          `env:"CACHE_CLEAR"`
	CacheStrictPerms *bool          `env:"CACHE_STRICT_PERMS"`
	CacheMaxBytes    *int64         `env:"CACHE_MAX_BYTES"`
	CacheMaxEntries  *int           `env:"CACHE_MAX_ENTRIES"`

	LedgerPath *string `env:"LEDGER"`

	Verbose *bool `env:"VERBOSE"`
	LogJSON *bool `env:"LOG_JSON"`
}

// ApplyEnvOverrides overrides cfg fields with GOARCHIVE_* environment variables
// that are set. It runs after the config file and before flags, so env takes
// precedence over the file while flags stay highest.
func ApplyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var ec envConfig
	if err := env.ParseWithOptions(&ec, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Input, ec.Input)
	setString(&cfg.OutputDir, ec.OutputDir)
	setString(&cfg.ReportPath, ec.ReportPath)
	setString(&cfg.ResultsPath, ec.ResultsPath)

	setValue(&cfg.PageConcurrency, ec.PageConcurrency)
	setValue(&cfg.DownloadConcurrency, ec.DownloadConcurrency)
	setValue(&cfg.PerItemTimeout, ec.PerItemTimeout)
	setValue(&cfg.RunTimeout, ec.RunTimeout)
	setValue(&cfg.RequestTimeout, ec.RequestTimeout)
	setValue(&cfg.RetryMaxAttempts, ec.RetryMaxAttempts)
	setValue(&cfg.RetryBaseDelay, ec.RetryBaseDelay)

	setList(&cfg.AttachmentExtensions, ec.AttachmentExtensions)
	setValue(&cfg.EncodingConfidenceThreshold, ec.EncodingConfidenceThreshold)
	setList(&cfg.EncodingCandidates, ec.EncodingCandidates)
	setList(&cfg.FontFallbackList, ec.FontFallbackList)
	setValue(&cfg.MaxBlocks, ec.MaxBlocks)

	setString(&cfg.UserAgent, ec.UserAgent)
	setValue(&cfg.MaxPageBytes, ec.MaxPageBytes)
	setValue(&cfg.MaxAttachmentBytes, ec.MaxAttachmentBytes)
	setValue(&cfg.InsecureTLS, ec.InsecureTLS)

	setString(&cfg.CacheDir, ec.CacheDir)
	setValue(&cfg.CacheMaxAge, ec.CacheMaxAge)
	setValue(&cfg.CacheClear, ec.CacheClear)
	setValue(&cfg.CacheStrictPerms, ec.CacheStrictPerms)
	setValue(&cfg.CacheMaxBytes, ec.CacheMaxBytes)
	setValue(&cfg.CacheMaxEntries, ec.CacheMaxEntries)

	setString(&cfg.LedgerPath, ec.LedgerPath)

	setValue(&cfg.Verbose, ec.Verbose)
	setValue(&cfg.LogJSON, ec.LogJSON)
	return nil
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// setString ignores set-but-empty variables.
func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setList(dst *[]string, v []string) {
	out := cleanList(v)
	if len(out) > 0 {
		*dst = out
	}
}
