// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/searchapi"
)

// RetryPolicy defines the retry behavior for one API batch.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff. A larger Retry-After from the
	// server still wins.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential multiplier.
	BackoffMultiplier float64

	// JitterFraction is the random jitter fraction (0.0-1.0).
	JitterFraction float64

	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewRetryPolicy builds the production policy from configuration.
func NewRetryPolicy(cfg *config.SyncConfig) *RetryPolicy {
	return NewRetryPolicyWithSeed(cfg, 0)
}

// NewRetryPolicyWithSeed creates a policy with a fixed jitter seed. A zero
// seed uses the current time.
func NewRetryPolicyWithSeed(cfg *config.SyncConfig, seed int64) *RetryPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RetryPolicy{
		MaxAttempts:       cfg.RetryAttempts,
		InitialBackoff:    cfg.RetryInitialDelay,
		MaxBackoff:        cfg.RetryMaxDelay,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		Retryable:         searchapi.IsRetryable,
		//nolint:gosec // G404: weak random is fine for backoff jitter
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Backoff returns the wait before attempt number retry+1.
func (p *RetryPolicy) Backoff(retry int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(retry))
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.JitterFraction > 0 && p.rng != nil {
		p.rngMu.Lock()
		jitter := backoff * p.JitterFraction * (p.rng.Float64()*2 - 1)
		p.rngMu.Unlock()
		backoff += jitter
	}
	return time.Duration(backoff)
}

// Do calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Waits between attempts are cancellable through
// ctx. kind labels the retry metric.
func (p *RetryPolicy) Do(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if hint := searchapi.RetryAfter(err); hint > delay {
			delay = hint
		}
		metrics.SyncRetriesTotal.WithLabelValues(kind).Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("kind", kind).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("delay", delay).
			Msg("Retry attempt")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}
