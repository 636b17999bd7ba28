// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validDimensions = map[string]bool{
	"query":   true,
	"page":    true,
	"country": true,
	"device":  true,
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateSearchAPI(); err != nil {
		return err
	}
	if err := c.validateDirectory(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.LookbackDays < 1 {
		return fmt.Errorf("SYNC_LOOKBACK_DAYS must be at least 1, got %d", s.LookbackDays)
	}
	if s.BatchSize < 1 || s.BatchSize > 1000 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 1000, got %d", s.BatchSize)
	}
	if s.RowLimit < 1 {
		return fmt.Errorf("SYNC_ROW_LIMIT must be positive, got %d", s.RowLimit)
	}
	if s.MaxPagesPerDimension < 1 {
		return fmt.Errorf("SYNC_MAX_PAGES_PER_DIMENSION must be positive, got %d", s.MaxPagesPerDimension)
	}
	for _, d := range s.Dimensions {
		if !validDimensions[d] {
			return fmt.Errorf("unknown sync dimension %q", d)
		}
	}
	if s.MaxInFlight < 1 {
		return fmt.Errorf("SYNC_MAX_IN_FLIGHT must be positive, got %d", s.MaxInFlight)
	}
	if s.MaxQueueSize < 1 {
		return fmt.Errorf("SYNC_MAX_QUEUE_SIZE must be positive, got %d", s.MaxQueueSize)
	}
	if s.WriterBacklogThreshold < 1 {
		return fmt.Errorf("SYNC_WRITER_BACKLOG_THRESHOLD must be positive, got %d", s.WriterBacklogThreshold)
	}
	if s.BackpressurePoll <= 0 {
		return fmt.Errorf("sync.backpressure_poll must be positive")
	}
	if s.RetryAttempts < 1 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be at least 1, got %d", s.RetryAttempts)
	}
	if s.RetryInitialDelay <= 0 || s.RetryMaxDelay < s.RetryInitialDelay {
		return fmt.Errorf("retry delays invalid: initial=%s max=%s", s.RetryInitialDelay, s.RetryMaxDelay)
	}
	if s.EventHistory < 1 {
		return fmt.Errorf("SYNC_EVENT_HISTORY must be positive, got %d", s.EventHistory)
	}
	if s.SubscriberBuffer < 1 {
		return fmt.Errorf("sync.subscriber_buffer must be positive, got %d", s.SubscriberBuffer)
	}
	return nil
}

func (c *Config) validateSearchAPI() error {
	u, err := url.Parse(c.SearchAPI.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SEARCH_API_URL must be an absolute URL, got %q", c.SearchAPI.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("SEARCH_API_URL must use http or https, got %q", u.Scheme)
	}
	if c.SearchAPI.RateLimit <= 0 {
		return fmt.Errorf("SEARCH_API_RATE_LIMIT must be positive, got %v", c.SearchAPI.RateLimit)
	}
	if c.SearchAPI.RateBurst < 1 {
		return fmt.Errorf("SEARCH_API_RATE_BURST must be at least 1, got %d", c.SearchAPI.RateBurst)
	}
	if c.SearchAPI.RequestTimeout <= 0 {
		return fmt.Errorf("SEARCH_API_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDirectory() error {
	for _, entry := range c.Directory.Authorized {
		account, property, ok := strings.Cut(entry, "/")
		if !ok || account == "" || property == "" {
			return fmt.Errorf("AUTHORIZED_PROPERTIES entry %q must be account_id/property_id", entry)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.Server.RateLimitRequests)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console; got %q", c.Logging.Format)
	}
	return nil
}
