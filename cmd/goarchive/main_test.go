package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/goarchive/internal/aggregate"
	"github.com/hyperifyio/goarchive/internal/app"
)

// clearEnv isolates tests from GOARCHIVE_* variables and .env in the cwd.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CONFIG", "INPUT", "OUTPUT_DIR", "PAGE_CONCURRENCY", "DOWNLOAD_CONCURRENCY", "LEDGER"} {
		t.Setenv(app.EnvPrefix+k, "")
	}
}

func TestParseConfig_PositionalInput(t *testing.T) {
	clearEnv(t)
	cfg, err := parseConfig([]string{"--env-file", "", "rows.csv"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Input != "rows.csv" || cfg.PageConcurrency != 5 || cfg.LedgerPath != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseConfig_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "goarchive.yaml")
	yml := "input: from-file.csv\noutput: file-out\nconcurrency:\n  pages: 2\n  downloads: 3\n"
	if err := os.WriteFile(cfgPath, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GOARCHIVE_PAGE_CONCURRENCY=7\nGOARCHIVE_DOWNLOAD_CONCURRENCY=9\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseConfig([]string{"-c", cfgPath, "--env-file", envPath, "--downloads", "4", "--resume"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Input != "from-file.csv" || cfg.OutputDir != "file-out" {
		t.Fatalf("file layer lost: %+v", cfg)
	}
	if cfg.PageConcurrency != 7 {
		t.Fatalf("env should override file, got pages=%d", cfg.PageConcurrency)
	}
	if cfg.DownloadConcurrency != 4 {
		t.Fatalf("flag should override env, got downloads=%d", cfg.DownloadConcurrency)
	}
	if cfg.LedgerPath != app.DefaultLedgerPath("file-out") {
		t.Fatalf("--resume should default the ledger path, got %q", cfg.LedgerPath)
	}
	// Unset flags keep defaults without masking lower layers.
	if cfg.RetryMaxAttempts != 3 || cfg.RetryBaseDelay != time.Second {
		t.Fatalf("unexpected retry settings %+v", cfg)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := parseConfig([]string{"--env-file", ""}); err == nil {
		t.Fatal("missing input should fail validation")
	}
	if _, err := parseConfig([]string{"--version"}); !errors.Is(err, errVersion) {
		t.Fatalf("expected errVersion, got %v", err)
	}
	if _, err := parseConfig([]string{"--no-such-flag"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
	if _, err := parseConfig([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "x.csv"}); err == nil {
		t.Fatal("expected missing config file error")
	}
}

func TestRun_MissingInput(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.Input = filepath.Join(t.TempDir(), "nope.csv")
	cfg.OutputDir = t.TempDir()
	cfg.CacheDir = ""
	_, err := run(context.Background(), cfg)
	if err == nil || exitCode(app.Report{}, err) != exitFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		rep  app.Report
		want int
	}{
		{"all ok", app.Report{Stats: aggregate.Stats{Total: 2, Succeeded: 2}}, exitOK},
		{"some failed", app.Report{Stats: aggregate.Stats{Total: 2, Succeeded: 1, Failed: 1}}, exitPartial},
		{"cancelled", app.Report{Meta: app.ReportMeta{Cancelled: true}}, exitPartial},
	}
	for _, c := range cases {
		if got := exitCode(c.rep, nil); got != c.want {
			t.Errorf("%s: got %d want %d", c.name, got, c.want)
		}
	}
}
