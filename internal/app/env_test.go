package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// LoadEnvFiles reads KEY=VALUE pairs and populates the process environment.
func TestLoadEnvFiles_LoadsKeyValues(t *testing.T) {
	t.Setenv("FOO", "")
	t.Setenv("BAR", "")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "\n# sample dotenv file\nFOO=alpha\nexport BAR='beta'\nmalformed line\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	if err := LoadEnvFiles(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	if got := os.Getenv("FOO"); got != "alpha" {
		t.Fatalf("FOO=%q, want alpha", got)
	}
	if got := os.Getenv("BAR"); got != "beta" {
		t.Fatalf("BAR=%q, want beta", got)
	}
}

// Later files override earlier ones when loading multiple dotenv files.
func TestLoadEnvFiles_OverrideOrder(t *testing.T) {
	t.Setenv("K", "")
	dir := t.TempDir()
	a := filepath.Join(dir, ".env.a")
	b := filepath.Join(dir, ".env.b")
	if err := os.WriteFile(a, []byte("K=first\n"), 0o600); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("K=second\n"), 0o600); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if err := LoadEnvFiles(a, b); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	if got := os.Getenv("K"); got != "second" {
		t.Fatalf("override order failed: got %q, want second", got)
	}
}

func TestApplyEnvOverrides_FromEnv(t *testing.T) {
	t.Setenv("GOARCHIVE_INPUT", "rows.csv")
	t.Setenv("GOARCHIVE_PAGE_CONCURRENCY", "9")
	t.Setenv("GOARCHIVE_PER_ITEM_TIMEOUT", "45s")
	t.Setenv("GOARCHIVE_ATTACHMENT_EXTENSIONS", ".pdf, .ofd ,")
	t.Setenv("GOARCHIVE_ENCODING_THRESHOLD", "0.5")
	t.Setenv("GOARCHIVE_CACHE_STRICT_PERMS", "true")
	t.Setenv("GOARCHIVE_OUTPUT_DIR", "")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(&cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if cfg.Input != "rows.csv" || cfg.PageConcurrency != 9 || cfg.PerItemTimeout != 45*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.AttachmentExtensions) != 2 || cfg.AttachmentExtensions[1] != ".ofd" {
		t.Fatalf("extensions not split: %q", cfg.AttachmentExtensions)
	}
	if cfg.EncodingConfidenceThreshold != 0.5 || !cfg.CacheStrictPerms {
		t.Fatalf("unexpected threshold/perms: %+v", cfg)
	}
	if cfg.OutputDir != "output" {
		t.Fatalf("empty env should not clear OutputDir, got %q", cfg.OutputDir)
	}
	if cfg.DownloadConcurrency != 8 {
		t.Fatalf("unset env changed DownloadConcurrency to %d", cfg.DownloadConcurrency)
	}
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("GOARCHIVE_RETRY_MAX_ATTEMPTS", "many")
	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(&cfg); err == nil {
		t.Fatal("expected parse error")
	}
}
