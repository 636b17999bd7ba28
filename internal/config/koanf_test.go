// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig() returns the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sync.LookbackDays != 486 {
		t.Errorf("Sync.LookbackDays = %d, want 486", cfg.Sync.LookbackDays)
	}
	if cfg.Sync.BatchSize != 20 {
		t.Errorf("Sync.BatchSize = %d, want 20", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MaxInFlight != 5 {
		t.Errorf("Sync.MaxInFlight = %d, want 5", cfg.Sync.MaxInFlight)
	}
	if cfg.Sync.RetryAttempts != 3 {
		t.Errorf("Sync.RetryAttempts = %d, want 3", cfg.Sync.RetryAttempts)
	}
	if cfg.Sync.RetryInitialDelay != 500*time.Millisecond {
		t.Errorf("Sync.RetryInitialDelay = %v, want 500ms", cfg.Sync.RetryInitialDelay)
	}
	if cfg.NATS.Enabled {
		t.Error("NATS.Enabled should be false by default")
	}
	if cfg.Server.Port != 3857 {
		t.Errorf("Server.Port = %d, want 3857", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SYNC_BATCH_SIZE", "7")
	t.Setenv("SYNC_DIMENSIONS", "query, page")
	t.Setenv("AUTHORIZED_PROPERTIES", "acct/sc-domain:example.com,acct/https://example.org/")
	t.Setenv("SEARCH_API_URL", "https://search.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sync.BatchSize != 7 {
		t.Errorf("Sync.BatchSize = %d, want 7", cfg.Sync.BatchSize)
	}
	if want := []string{"query", "page"}; !reflect.DeepEqual(cfg.Sync.Dimensions, want) {
		t.Errorf("Sync.Dimensions = %v, want %v", cfg.Sync.Dimensions, want)
	}
	if len(cfg.Directory.Authorized) != 2 {
		t.Errorf("Directory.Authorized = %v, want 2 entries", cfg.Directory.Authorized)
	}
	if cfg.SearchAPI.BaseURL != "https://search.example.com" {
		t.Errorf("SearchAPI.BaseURL = %q", cfg.SearchAPI.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sync:
  max_in_flight: 3
  retry_attempts: 5
database:
  path: ":memory:"
directory:
  authorized:
    - acct-1/sc-domain:example.com
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SYNC_RETRY_ATTEMPTS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.MaxInFlight != 3 {
		t.Errorf("Sync.MaxInFlight = %d, want 3 from file", cfg.Sync.MaxInFlight)
	}
	if cfg.Sync.RetryAttempts != 2 {
		t.Errorf("Sync.RetryAttempts = %d, want 2 (env beats file)", cfg.Sync.RetryAttempts)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Sync.BatchSize != 20 {
		t.Errorf("Sync.BatchSize = %d, want default 20", cfg.Sync.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "SYNC_BATCH_SIZE"},
		{"unknown dimension", func(c *Config) { c.Sync.Dimensions = []string{"browser"} }, "unknown sync dimension"},
		{"zero in flight", func(c *Config) { c.Sync.MaxInFlight = 0 }, "SYNC_MAX_IN_FLIGHT"},
		{"max delay below initial", func(c *Config) { c.Sync.RetryMaxDelay = time.Millisecond }, "retry delays"},
		{"relative api url", func(c *Config) { c.SearchAPI.BaseURL = "/api" }, "SEARCH_API_URL"},
		{"ftp api url", func(c *Config) { c.SearchAPI.BaseURL = "ftp://example.com" }, "http or https"},
		{"bad directory entry", func(c *Config) { c.Directory.Authorized = []string{"nope"} }, "AUTHORIZED_PROPERTIES"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "HTTP_PORT"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"DUCKDB_PATH":     "database.path",
		"SYNC_BATCH_SIZE": "sync.batch_size",
		"NATS_URL":        "nats.url",
		"HOME":            "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
