package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev environment, got %q", cfg.Environment)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config persisted: %v", err)
	}

	// A second load reads the persisted file rather than recreating it.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %q vs %q", again.DataDir, cfg.DataDir)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "ListenAddress = \":9000\"\nDataDir = \"/var/lib/vsd\"\nEnvironment = \"prod\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.DataDir != "/var/lib/vsd" || cfg.Environment != "prod" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Limits.MaxPageSize != 500 {
		t.Fatalf("expected default page size limit, got %d", cfg.Limits.MaxPageSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("MysteryKnob = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestValidateLimits(t *testing.T) {
	limits := Limits{MaxPageSize: 10, DefaultPageSize: 50, MaxRequestBytes: 1024}
	if err := ValidateLimits(limits); err == nil {
		t.Fatalf("expected error when default page size exceeds max")
	}
	limits.DefaultPageSize = 10
	if err := ValidateLimits(limits); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
