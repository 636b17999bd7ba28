// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package searchapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
)

const breakerName = "search-api"

// CircuitBreakerClient wraps Client so that a sustained run of transient
// failures stops hammering the API. Rejected calls surface as
// RetryableError and flow through the engine's normal retry policy.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewCircuitBreakerClient wraps a new Client. The breaker opens after
// cfg.CircuitBreakerFailures consecutive retryable failures and probes
// again after cfg.CircuitBreakerTimeout.
func NewCircuitBreakerClient(cfg *config.SearchAPIConfig) *CircuitBreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	threshold := cfg.CircuitBreakerFailures
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only transient failures say anything about API health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &CircuitBreakerClient{client: NewClient(cfg), cb: cb}
}

// State returns the breaker state name: closed, half-open or open.
func (c *CircuitBreakerClient) State() string {
	return c.cb.State().String()
}

func (c *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		return nil, &RetryableError{Message: "search api circuit breaker rejected request", Cause: err}
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return nil, err
	}
}

func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// FetchDayAggregate calls Client.FetchDayAggregate through the breaker.
func (c *CircuitBreakerClient) FetchDayAggregate(ctx context.Context, key models.PropertyKey, day time.Time, pageToken string) (*DayPage, error) {
	return castResult[*DayPage](c.execute(func() (interface{}, error) {
		return c.client.FetchDayAggregate(ctx, key, day, pageToken)
	}))
}

// FetchQueryBatch calls Client.FetchQueryBatch through the breaker.
func (c *CircuitBreakerClient) FetchQueryBatch(ctx context.Context, key models.PropertyKey, day time.Time, requests []models.QueryRequest) ([]models.QueryResponse, error) {
	return castResult[[]models.QueryResponse](c.execute(func() (interface{}, error) {
		return c.client.FetchQueryBatch(ctx, key, day, requests)
	}))
}
