// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
	"github.com/tomtom215/searchsync/internal/searchapi"
)

// With a budget of three requests per hour, two throttled attempts and one
// success on the first day use it up and nothing else goes out.
func TestEngineRateBudgetCoversEveryCall(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Dimensions = nil
	cfg.SearchAPI.RateLimit = 1.0 / 3600
	cfg.SearchAPI.RateBurst = 3

	var attempts atomic.Int64
	client := &mockClient{}
	client.dayFunc = func(context.Context, models.PropertyKey, time.Time, string) (*searchapi.DayPage, error) {
		if attempts.Add(1) <= 2 {
			return nil, &searchapi.RetryableError{StatusCode: 429, Message: "search api returned HTTP 429"}
		}
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
	}
	store := newFakeStore()
	waitsBefore := testutil.ToFloat64(metrics.RateLimitWaits)

	e := startEngine(t, cfg, Dependencies{Client: client, Store: store})
	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 5)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first day to commit", func() bool {
		d, _ := store.day(testKey, daysAgo(5))
		return d.Status == models.DayComplete
	})
	time.Sleep(50 * time.Millisecond)

	if got := client.dayCalls.Load(); got != 3 {
		t.Errorf("API calls = %d, want 3 for a burst of 3", got)
	}
	state, err := e.CurrentState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != RunRunning || state.CompletedSteps != 1 {
		t.Errorf("state = %s with %d steps, want running with 1", state.Status, state.CompletedSteps)
	}
	if d, _ := store.day(testKey, daysAgo(4)); d.Status != models.DayRunning {
		t.Errorf("day -4 = %q, want running while waiting for budget", d.Status)
	}
	if testutil.ToFloat64(metrics.RateLimitWaits) <= waitsBefore {
		t.Error("rate limit wait was not counted")
	}
}

func TestEngineDeadLetterWriteFailure(t *testing.T) {
	errDisk := errors.New("duckdb: disk full")

	tests := []struct {
		name        string
		statusErr   func(models.DayStatus) error
		wantRun     RunStatus
		wantFailing models.DayStatus
		wantNext    bool
	}{
		{
			name:        "day still marked failed",
			wantRun:     RunCompletedWithWarnings,
			wantFailing: models.DayFailed,
			wantNext:    true,
		},
		{
			name: "failed status rejected",
			statusErr: func(s models.DayStatus) error {
				if s == models.DayFailed {
					return errDisk
				}
				return nil
			},
			wantRun:     RunFailed,
			wantFailing: models.DayHalted,
		},
		{
			name: "store rejects every terminal write",
			statusErr: func(s models.DayStatus) error {
				if s != models.DayRunning {
					return errDisk
				}
				return nil
			},
			wantRun:     RunFailed,
			wantFailing: models.DayRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := daysAgo(2)
			store := newFakeStore()
			store.failedErr = errDisk
			store.statusErr = tt.statusErr

			client := &mockClient{}
			client.dayFunc = func(_ context.Context, _ models.PropertyKey, day time.Time, _ string) (*searchapi.DayPage, error) {
				if day.Equal(failing) {
					return nil, &searchapi.PermanentError{StatusCode: 400, Message: "invalid dimension filter"}
				}
				return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
			}

			e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
			sub := e.Subscribe()
			defer sub.Close()

			if _, err := e.Start(context.Background(), models.LastNDays(testKey, 2)); err != nil {
				t.Fatal(err)
			}
			_, fin := collectUntilFinished(t, sub)

			if fin.Status != tt.wantRun {
				t.Fatalf("run = %s (error %q), want %s", fin.Status, fin.Error, tt.wantRun)
			}
			if tt.wantRun == RunFailed && fin.Error == "" {
				t.Error("failed run carries no error")
			}
			if d, _ := store.day(testKey, failing); d.Status != tt.wantFailing {
				t.Errorf("failing day at rest = %q, want %q", d.Status, tt.wantFailing)
			}
			if n := store.deadLetterCount(); n != 0 {
				t.Errorf("dead letters = %d, want 0", n)
			}
			if len(fin.Summary.DeadLetters) != 0 || fin.Summary.DaysFailed+fin.Summary.DaysHalted != 1 {
				t.Errorf("summary = %+v", fin.Summary)
			}

			_, attempted := store.day(testKey, daysAgo(1))
			if attempted != tt.wantNext {
				t.Errorf("next day attempted = %v, want %v", attempted, tt.wantNext)
			}
		})
	}
}

// A store that stages rows slower than batches arrive trips the writer
// backlog gate; dispatch resumes once the writer drains.
func TestEngineWriterBacklogSuspendsDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.BatchSize = 1
	cfg.Sync.RowLimit = 1
	cfg.Sync.MaxPagesPerDimension = 10
	cfg.Sync.MaxInFlight = 10
	cfg.Sync.WriterBacklogThreshold = 2

	release := make(chan struct{})
	var once stdsync.Once
	store := newFakeStore()
	store.stageHook = func(time.Time) { <-release }

	client := &mockClient{}
	client.batchFunc = func(_ context.Context, _ models.PropertyKey, _ time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error) {
		// One row per one-row page keeps every dimension paginating.
		return oneRowEach(reqs), nil
	}
	waitsBefore := testutil.ToFloat64(metrics.BackpressureWaits.WithLabelValues(string(ReasonWriterBacklog)))

	e := startEngine(t, cfg, Dependencies{Client: client, Store: store})
	t.Cleanup(func() { once.Do(func() { close(release) }) })
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 1)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "writer backlog", func() bool {
		p := e.Pipeline()
		return p.Status == PipelineBackpressure && p.LastReason == ReasonWriterBacklog && p.WriteBacklog
	})
	time.Sleep(20 * time.Millisecond)
	held := client.batchCalls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := client.batchCalls.Load(); got != held || got >= 20 {
		t.Errorf("batches kept going under writer backlog: %d then %d", held, got)
	}

	once.Do(func() { close(release) })
	_, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCompleted {
		t.Fatalf("run = %s (error %q)", fin.Status, fin.Error)
	}
	// Two dimensions, ten one-row pages each, plus the daily row.
	if got := client.batchCalls.Load(); got != 20 {
		t.Errorf("batches = %d, want 20", got)
	}
	if got := store.stageCalls.Load(); got != 20 {
		t.Errorf("staging writes = %d, want 20", got)
	}
	if d, _ := store.day(testKey, daysAgo(1)); d.Status != models.DayComplete || d.RowsWritten != 21 {
		t.Errorf("day = %+v, want complete with 21 rows", d)
	}
	if testutil.ToFloat64(metrics.BackpressureWaits.WithLabelValues(string(ReasonWriterBacklog))) <= waitsBefore {
		t.Error("writer backlog wait was not counted")
	}
}

// An empty answer on retry commits nothing, so the entry stays and the
// retry is not counted as a success.
func TestDeadLetterRetryOfEmptyDayKeepsEntry(t *testing.T) {
	target := daysAgo(3)
	store := newFakeStore()
	ctx := context.Background()
	if _, err := store.MarkDayFailed(ctx, testKey, target, "old-run", "HTTP 500"); err != nil {
		t.Fatal(err)
	}

	client := &mockClient{}
	client.dayFunc = func(context.Context, models.PropertyKey, time.Time, string) (*searchapi.DayPage, error) {
		return &searchapi.DayPage{}, nil
	}
	success := metrics.DeadLetterRetries.WithLabelValues("success")
	failure := metrics.DeadLetterRetries.WithLabelValues("failure")
	successBefore, failureBefore := testutil.ToFloat64(success), testutil.ToFloat64(failure)

	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.DeadLetters().Retry(ctx, testKey, target); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	_, fin := collectUntilFinished(t, sub)
	if fin.Summary.DaysSkipped != 1 {
		t.Fatalf("summary = %+v, want one skipped day", fin.Summary)
	}

	if entry, _ := store.GetDeadLetter(ctx, testKey, target); entry == nil {
		t.Error("dead letter removed by a retry that wrote nothing")
	}
	if got := testutil.ToFloat64(success) - successBefore; got != 0 {
		t.Errorf("success retries += %v, want 0", got)
	}
	if got := testutil.ToFloat64(failure) - failureBefore; got != 1 {
		t.Errorf("failure retries += %v, want 1", got)
	}
}
