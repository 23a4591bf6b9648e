package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// duration accepts "90s" style strings in YAML and JSON as well as integer
// nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ns int64
		if jerr := json.Unmarshal(b, &ns); jerr != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = duration(ns)
		return nil
	}
	return d.parse(s)
}

func (d *duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// FileConfig represents the single-file configuration schema.
// Nested sections map naturally to the dotted flag names.
type FileConfig struct {
	Input   string `yaml:"input" json:"input"`
	Output  string `yaml:"output" json:"output"`
	Report  string `yaml:"report" json:"report"`
	Results string `yaml:"results" json:"results"`

	Concurrency struct {
		Pages     int `yaml:"pages" json:"pages"`
		Downloads int `yaml:"downloads" json:"downloads"`
	} `yaml:"concurrency" json:"concurrency"`

	Timeouts struct {
		Item    duration `yaml:"item" json:"item"`
		Run     duration `yaml:"run" json:"run"`
		Request duration `yaml:"request" json:"request"`
	} `yaml:"timeouts" json:"timeouts"`

	Retry struct {
		MaxAttempts int      `yaml:"maxAttempts" json:"maxAttempts"`
		BaseDelay   duration `yaml:"baseDelay" json:"baseDelay"`
	} `yaml:"retry" json:"retry"`

	Attachments struct {
		Extensions []string `yaml:"extensions" json:"extensions"`
		MaxBytes   int64    `yaml:"maxBytes" json:"maxBytes"`
	} `yaml:"attachments" json:"attachments"`

	Encoding struct {
		Threshold  *float64 `yaml:"threshold" json:"threshold"`
		Candidates []string `yaml:"candidates" json:"candidates"`
	} `yaml:"encoding" json:"encoding"`

	Render struct {
		Fonts     []string `yaml:"fonts" json:"fonts"`
		MaxBlocks int      `yaml:"maxBlocks" json:"maxBlocks"`
	} `yaml:"render" json:"render"`

	HTTP struct {
		UserAgent    string `yaml:"userAgent" json:"userAgent"`
		MaxPageBytes int64  `yaml:"maxPageBytes" json:"maxPageBytes"`
		Insecure     bool   `yaml:"insecure" json:"insecure"`
	} `yaml:"http" json:"http"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir"`
		MaxAge      duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool     `yaml:"clear" json:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms"`
		MaxBytes    int64    `yaml:"maxBytes" json:"maxBytes"`
		MaxEntries  int      `yaml:"maxEntries" json:"maxEntries"`
	} `yaml:"cache" json:"cache"`

	Ledger string `yaml:"ledger" json:"ledger"`

	Verbose bool `yaml:"verbose" json:"verbose"`
	LogJSON bool `yaml:"logJSON" json:"logJSON"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value present in fc onto cfg. It runs on top
// of DefaultConfig and below env and flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	str := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	num := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	num64 := func(dst *int64, v int64) {
		if v > 0 {
			*dst = v
		}
	}
	dur := func(dst *time.Duration, v duration) {
		if v > 0 {
			*dst = time.Duration(v)
		}
	}

	str(&cfg.Input, fc.Input)
	str(&cfg.OutputDir, fc.Output)
	str(&cfg.ReportPath, fc.Report)
	str(&cfg.ResultsPath, fc.Results)

	num(&cfg.PageConcurrency, fc.Concurrency.Pages)
	num(&cfg.DownloadConcurrency, fc.Concurrency.Downloads)
	dur(&cfg.PerItemTimeout, fc.Timeouts.Item)
	dur(&cfg.RunTimeout, fc.Timeouts.Run)
	dur(&cfg.RequestTimeout, fc.Timeouts.Request)
	num(&cfg.RetryMaxAttempts, fc.Retry.MaxAttempts)
	dur(&cfg.RetryBaseDelay, fc.Retry.BaseDelay)

	setList(&cfg.AttachmentExtensions, fc.Attachments.Extensions)
	num64(&cfg.MaxAttachmentBytes, fc.Attachments.MaxBytes)
	if fc.Encoding.Threshold != nil {
		cfg.EncodingConfidenceThreshold = *fc.Encoding.Threshold
	}
	setList(&cfg.EncodingCandidates, fc.Encoding.Candidates)
	setList(&cfg.FontFallbackList, fc.Render.Fonts)
	num(&cfg.MaxBlocks, fc.Render.MaxBlocks)

	str(&cfg.UserAgent, fc.HTTP.UserAgent)
	num64(&cfg.MaxPageBytes, fc.HTTP.MaxPageBytes)
	if fc.HTTP.Insecure {
		cfg.InsecureTLS = true
	}

	str(&cfg.CacheDir, fc.Cache.Dir)
	dur(&cfg.CacheMaxAge, fc.Cache.MaxAge)
	if fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}

	num64(&cfg.CacheMaxBytes, fc.Cache.MaxBytes)
	num(&cfg.CacheMaxEntries, fc.Cache.MaxEntries)

	str(&cfg.LedgerPath, fc.Ledger)
	if fc.Verbose {
		cfg.Verbose = true
	}
	if fc.LogJSON {
		cfg.LogJSON = true
	}
}

// cleanList trims entries and drops empty ones.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitList parses a comma-separated flag or env value.
func SplitList(s string) []string {
	return cleanList(strings.Split(s, ","))
}
