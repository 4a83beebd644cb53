package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sage.yaml")
	data := `
classifier:
  url: http://10.0.0.5:5000
browser:
  headless: true
  attach_all: true
pages:
  - https://example.com/
settle:
  debounce: 500ms
  max_settle: 10s
features:
  byte_limit: 2000
copy:
  block_title: "<b>Heads up</b>"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Classifier.URL != "http://10.0.0.5:5000" || !cfg.Browser.Headless || !cfg.Browser.AttachAll {
		t.Fatalf("cfg: %+v", cfg)
	}
	if cfg.Settle.Debounce != 500*time.Millisecond || cfg.Settle.MaxSettle != 10*time.Second {
		t.Fatalf("settle: %+v", cfg.Settle)
	}
	if cfg.Features.ByteLimit != 2000 || cfg.Features.MinTextLength != 100 || cfg.Features.MinImageSize != 50 {
		t.Fatalf("features: %+v", cfg.Features)
	}
	if len(cfg.Pages) != 1 {
		t.Fatalf("pages: %v", cfg.Pages)
	}
	if cfg.Copy.BlockTitle != "Heads up" || cfg.Copy.GoBack == "" {
		t.Fatalf("copy: %+v", cfg.Copy)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Classifier.URL != "http://127.0.0.1:5000" {
		t.Fatalf("url: %q", cfg.Classifier.URL)
	}
	if cfg.Settle.Debounce != 750*time.Millisecond || cfg.Settle.MaxSettle != 0 {
		t.Fatalf("settle: %+v", cfg.Settle)
	}
	if cfg.Health.Interval != 15*time.Second {
		t.Fatalf("health: %v", cfg.Health.Interval)
	}
	if cfg.Browser.Headless {
		t.Fatal("the agent drives a visible browser by default")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
