// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
)

// PipelineStatus is the dispatch pipeline's coarse state.
type PipelineStatus string

const (
	PipelineIdle         PipelineStatus = "idle"
	PipelineDispatch     PipelineStatus = "dispatch"
	PipelineBackpressure PipelineStatus = "backpressure"
	PipelineFinalizing   PipelineStatus = "finalizing"
	PipelineHalted       PipelineStatus = "halted"
	PipelineError        PipelineStatus = "error"
)

// BackpressureReason names the signal that suspended dispatch.
type BackpressureReason string

const (
	ReasonWriterBacklog BackpressureReason = "writer_backlog"
	ReasonMaxInFlight   BackpressureReason = "max_in_flight"
	ReasonMaxQueueSize  BackpressureReason = "max_queue_size"
)

// PipelineStats is a point-in-time view of the Controller.
type PipelineStats struct {
	Status       PipelineStatus     `json:"status"`
	QueueDepth   int                `json:"queue_depth"`
	InFlight     int                `json:"in_flight"`
	WriteBacklog bool               `json:"write_backlog"`
	LastReason   BackpressureReason `json:"last_reason,omitempty"`
}

// BacklogSignal reports whether the downstream writer is behind.
type BacklogSignal interface {
	Backlogged() bool
}

// Controller gates every batch dispatch. A batch may start only when the
// in-flight count is under its ceiling, the result queue is under its
// ceiling, and the writer is not backlogged. Nothing is ever dropped; a
// caller of Acquire simply waits.
//
// The Controller also owns the process-wide API rate budget. Every
// outbound request, retries included, takes a token through Wait.
type Controller struct {
	maxInFlight int
	maxQueue    int
	poll        time.Duration
	limiter     *rate.Limiter
	backlog     BacklogSignal

	mu         sync.Mutex
	inFlight   int
	queueDepth int
	status     PipelineStatus
	lastReason BackpressureReason
	changed    chan struct{}
}

// NewController builds a controller from the engine and API settings.
func NewController(syncCfg *config.SyncConfig, apiCfg *config.SearchAPIConfig, backlog BacklogSignal) *Controller {
	limit := rate.Inf
	if apiCfg.RateLimit > 0 {
		limit = rate.Limit(apiCfg.RateLimit)
	}
	burst := apiCfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	poll := syncCfg.BackpressurePoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	c := &Controller{
		maxInFlight: syncCfg.MaxInFlight,
		maxQueue:    syncCfg.MaxQueueSize,
		poll:        poll,
		limiter:     rate.NewLimiter(limit, burst),
		backlog:     backlog,
		status:      PipelineIdle,
		changed:     make(chan struct{}),
	}
	metrics.SetPipelineStatus(string(PipelineIdle))
	return c
}

// tripped returns the first signal over its bound. Caller holds c.mu.
func (c *Controller) tripped() BackpressureReason {
	switch {
	case c.backlog != nil && c.backlog.Backlogged():
		return ReasonWriterBacklog
	case c.maxInFlight > 0 && c.inFlight >= c.maxInFlight:
		return ReasonMaxInFlight
	case c.maxQueue > 0 && c.queueDepth >= c.maxQueue:
		return ReasonMaxQueueSize
	}
	return ""
}

// Acquire blocks until a new batch may be dispatched, then reserves an
// in-flight slot. Every successful Acquire must be paired with Release.
func (c *Controller) Acquire(ctx context.Context) error {
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	waited := false
	for {
		c.mu.Lock()
		reason := c.tripped()
		if reason == "" {
			c.inFlight++
			metrics.PipelineInFlight.Set(float64(c.inFlight))
			c.setStatusLocked(PipelineDispatch)
			c.mu.Unlock()
			break
		}

		if !waited {
			metrics.BackpressureWaits.WithLabelValues(string(reason)).Inc()
			logging.Ctx(ctx).Debug().
				Str("reason", string(reason)).
				Int("in_flight", c.inFlight).
				Int("queue_depth", c.queueDepth).
				Msg("Dispatch suspended by backpressure")
			waited = true
		}
		c.lastReason = reason
		c.setStatusLocked(PipelineBackpressure)
		wake := c.changed
		c.mu.Unlock()

		// The writer backlog has no wake-up channel, so poll as well.
		if ticker == nil {
			ticker = time.NewTicker(c.poll)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}

	return nil
}

// Wait blocks until the rate budget allows one more API request.
func (c *Controller) Wait(ctx context.Context) error {
	if c.limiter.Tokens() < 1 {
		metrics.RateLimitWaits.Inc()
	}
	return c.limiter.Wait(ctx)
}

// Release frees an in-flight slot taken by Acquire.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	metrics.PipelineInFlight.Set(float64(c.inFlight))
	c.notifyLocked()
}

// SetQueueDepth reports the dispatcher's result queue depth.
func (c *Controller) SetQueueDepth(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == c.queueDepth {
		return
	}
	c.queueDepth = n
	metrics.PipelineQueueDepth.Set(float64(n))
	c.notifyLocked()
}

// SetStatus overrides the pipeline status, e.g. finalizing during a
// commit or halted once a run is stopped.
func (c *Controller) SetStatus(s PipelineStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(s)
}

func (c *Controller) setStatusLocked(s PipelineStatus) {
	if c.status == s {
		return
	}
	c.status = s
	metrics.SetPipelineStatus(string(s))
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Stats returns the current pipeline gauge.
func (c *Controller) Stats() PipelineStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PipelineStats{
		Status:       c.status,
		QueueDepth:   c.queueDepth,
		InFlight:     c.inFlight,
		WriteBacklog: c.backlog != nil && c.backlog.Backlogged(),
		LastReason:   c.lastReason,
	}
}
