package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "writer:\n  outputPath: out.csv\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Writer.Delimiter != "," {
		t.Errorf("expected default delimiter, got %q", cfg.Writer.Delimiter)
	}
	if cfg.Merger.Strategy != "smart" {
		t.Errorf("expected default merge strategy, got %q", cfg.Merger.Strategy)
	}
	if cfg.Delta.CodecAlgorithm != "hybrid" {
		t.Errorf("expected default codec, got %q", cfg.Delta.CodecAlgorithm)
	}
	if cfg.Writer.Trigger != "mixed" {
		t.Errorf("expected default trigger, got %q", cfg.Writer.Trigger)
	}
	if cfg.Writer.MaxFieldBytes != 1<<20 {
		t.Errorf("expected default maxFieldBytes of 1 MiB, got %d", cfg.Writer.MaxFieldBytes)
	}
}

func TestLoadRejectsUnknownTrigger(t *testing.T) {
	path := writeTemp(t, "writer:\n  trigger: bogus\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unknown trigger")
	}
}

func TestLoadAcceptsAutoCompression(t *testing.T) {
	path := writeTemp(t, "writer:\n  compression: auto\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Writer.Compression != "auto" {
		t.Errorf("expected auto compression to be accepted, got %q", cfg.Writer.Compression)
	}
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeTemp(t, "merger:\n  strategy: bogus\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unknown strategy")
	}
}

func TestLoadRejectsMissingPrioritySources(t *testing.T) {
	path := writeTemp(t, "merger:\n  strategy: priority\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing prioritySources")
	}
}

func TestLoadRejectsDistributedLockWithoutAddr(t *testing.T) {
	path := writeTemp(t, "merger:\n  useDistributedLock: true\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing lock.addr")
	}
}
