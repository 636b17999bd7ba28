// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/searchsync/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfig returns the built-in defaults, the lowest configuration layer.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			LookbackDays:           486,
			BatchSize:              20,
			RowLimit:               1000,
			MaxPagesPerDimension:   25,
			Dimensions:             []string{"query", "page", "country", "device"},
			MaxInFlight:            5,
			MaxQueueSize:           50,
			WriterBacklogThreshold: 8,
			BackpressurePoll:       100 * time.Millisecond,
			RetryAttempts:          3,
			RetryInitialDelay:      500 * time.Millisecond,
			RetryMaxDelay:          10 * time.Second,
			EventHistory:           100,
			SubscriberBuffer:       256,
		},
		SearchAPI: SearchAPIConfig{
			BaseURL:                "http://localhost:8090",
			RequestTimeout:         30 * time.Second,
			RateLimit:              10,
			RateBurst:              10,
			CircuitBreakerFailures: 5,
			CircuitBreakerTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/searchsync.duckdb",
			MaxMemory: "2GB",
		},
		Badger: BadgerConfig{
			Path: "/data/badger",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "searchsync.sync",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              3857,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the config file if one
// exists, then environment variables. The result is validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma separated strings.
var sliceConfigPaths = []string{
	"sync.dimensions",
	"directory.authorized",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings lists every environment variable that is honored. Anything
// else in the environment is ignored.
var envMappings = map[string]string{
	"sync_lookback_days":            "sync.lookback_days",
	"sync_batch_size":               "sync.batch_size",
	"sync_row_limit":                "sync.row_limit",
	"sync_max_pages_per_dimension":  "sync.max_pages_per_dimension",
	"sync_dimensions":               "sync.dimensions",
	"sync_max_in_flight":            "sync.max_in_flight",
	"sync_max_queue_size":           "sync.max_queue_size",
	"sync_writer_backlog_threshold": "sync.writer_backlog_threshold",
	"sync_retry_attempts":           "sync.retry_attempts",
	"sync_retry_initial_delay":      "sync.retry_initial_delay",
	"sync_retry_max_delay":          "sync.retry_max_delay",
	"sync_event_history":            "sync.event_history",

	"search_api_url":             "search_api.base_url",
	"search_api_token":           "search_api.token",
	"search_api_timeout":         "search_api.request_timeout",
	"search_api_rate_limit":      "search_api.rate_limit",
	"search_api_rate_burst":      "search_api.rate_burst",
	"search_api_breaker_timeout": "search_api.circuit_breaker_timeout",

	"authorized_properties": "directory.authorized",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"badger_path": "badger.path",

	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_subject_prefix": "nats.subject_prefix",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_requests",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths, e.g.
// SYNC_BATCH_SIZE -> sync.batch_size, DUCKDB_PATH -> database.path.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
