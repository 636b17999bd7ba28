// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

/*
Package sync is the incremental synchronization engine that mirrors the
search-performance API into DuckDB one calendar day at a time.

Key Components:

  - Engine: owns the single current run. All RunProgress mutation happens on
    the engine's actor goroutine; callers talk to it through commands.
  - PlanDays: pure function turning a SyncRequest and the SyncDay history
    into the ordered list of days to process.
  - dispatcher: per-day fetch. One paginated day fetch, then dimension
    sub-requests grouped into batches and issued concurrently.
  - Controller: backpressure gate in front of every batch. Tracks in-flight
    batches, the result queue and the writer backlog, and holds the
    process-wide rate budget.
  - Writer: single goroutine through which every SyncDay and dead letter
    write is serialized in submission order.
  - Broadcaster: non-blocking fan-out of events to subscribers. A slow
    subscriber loses its oldest events, the engine never waits.
  - RetryPolicy: bounded exponential backoff applied per batch to
    retryable API errors.

Run Lifecycle:

	idle -> running -> paused -> running
	running|paused -> cancelling -> cancelled
	running -> completed | completed_with_warnings | failed

Pause and stop take effect at day boundaries. The day in flight always
finishes and its commit is always awaited, so no SyncDay is left running
once a run reaches a terminal state.

Failure Isolation:

A retryable error is retried at batch granularity. When retries run out,
or the API rejects a request outright, only that day fails: it is marked
failed, a dead letter is written and the run moves on. Authorization
failures end the run as failed.

Usage:

	engine, err := sync.NewEngine(cfg, sync.Dependencies{
	    Client:    client,
	    Store:     db,
	    Directory: dir,
	    Snapshots: snapshots,
	})
	go engine.Serve(ctx)

	runID, err := engine.Start(ctx, models.LastNDays(key, 7))
	sub := engine.Subscribe()
	for ev := range sub.Events() {
	    ...
	}
*/
package sync
