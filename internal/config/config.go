// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package config loads Searchsync configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Sync      SyncConfig      `koanf:"sync"`
	SearchAPI SearchAPIConfig `koanf:"search_api"`
	Directory DirectoryConfig `koanf:"directory"`
	Database  DatabaseConfig  `koanf:"database"`
	Badger    BadgerConfig    `koanf:"badger"`
	NATS      NATSConfig      `koanf:"nats"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SyncConfig holds engine tunables.
type SyncConfig struct {
	// LookbackDays bounds full_history requests (default 486, about 16 months).
	LookbackDays int `koanf:"lookback_days"`

	// BatchSize caps sub-requests per HTTP batch.
	BatchSize int `koanf:"batch_size"`

	// RowLimit is the page size requested per dimension sub-request.
	RowLimit int `koanf:"row_limit"`

	// MaxPagesPerDimension stops pagination of one dimension for one day.
	MaxPagesPerDimension int `koanf:"max_pages_per_dimension"`

	// Dimensions fetched for each day.
	Dimensions []string `koanf:"dimensions"`

	MaxInFlight            int           `koanf:"max_in_flight"`
	MaxQueueSize           int           `koanf:"max_queue_size"`
	WriterBacklogThreshold int           `koanf:"writer_backlog_threshold"`
	BackpressurePoll       time.Duration `koanf:"backpressure_poll"`

	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`

	// EventHistory is the number of events retained in RunProgress.
	EventHistory int `koanf:"event_history"`

	// SubscriberBuffer is the per-subscriber queue bound.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
}

// SearchAPIConfig holds the upstream search-performance API settings.
type SearchAPIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Token          string        `koanf:"token"`
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RateLimit is the process-wide request budget in requests per second.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	CircuitBreakerFailures uint32        `koanf:"circuit_breaker_failures"`
	CircuitBreakerTimeout  time.Duration `koanf:"circuit_breaker_timeout"`
}

// DirectoryConfig lists properties the operator is authorized to sync.
// Entries are "account_id/property_id".
type DirectoryConfig struct {
	Authorized []string `koanf:"authorized"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// BadgerConfig holds settings for the last-run snapshot store.
// An empty Path selects an in-memory store.
type BadgerConfig struct {
	Path string `koanf:"path"`
}

// NATSConfig controls forwarding of engine events to NATS.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds zerolog settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
