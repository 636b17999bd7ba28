// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"sort"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/models"
	"github.com/tomtom215/searchsync/internal/searchapi"
)

var (
	testKey   = models.PropertyKey{AccountID: "acct-1", PropertyID: "sc-domain:example.com"}
	testToday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
)

// daysAgo returns testToday minus n days.
func daysAgo(n int) time.Time {
	return testToday.AddDate(0, 0, -n)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sync.Dimensions = []string{"query", "page"}
	cfg.Sync.RowLimit = 2
	cfg.Sync.BatchSize = 2
	cfg.Sync.MaxPagesPerDimension = 3
	cfg.Sync.MaxInFlight = 5
	cfg.Sync.MaxQueueSize = 10
	cfg.Sync.WriterBacklogThreshold = 0
	cfg.Sync.BackpressurePoll = 5 * time.Millisecond
	cfg.Sync.RetryAttempts = 3
	cfg.Sync.RetryInitialDelay = time.Millisecond
	cfg.Sync.RetryMaxDelay = 5 * time.Millisecond
	cfg.Sync.EventHistory = 20
	cfg.Sync.SubscriberBuffer = 256
	cfg.SearchAPI.RateLimit = 0
	return cfg
}

// mockClient implements SearchClient with function fields.
type mockClient struct {
	dayFunc   func(ctx context.Context, key models.PropertyKey, day time.Time, token string) (*searchapi.DayPage, error)
	batchFunc func(ctx context.Context, key models.PropertyKey, day time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error)

	dayCalls   atomic.Int64
	batchCalls atomic.Int64
}

func (m *mockClient) FetchDayAggregate(ctx context.Context, key models.PropertyKey, day time.Time, token string) (*searchapi.DayPage, error) {
	m.dayCalls.Add(1)
	if m.dayFunc != nil {
		return m.dayFunc(ctx, key, day, token)
	}
	return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 5, Impressions: 50, CTR: 0.1, Position: 4}}}, nil
}

func (m *mockClient) FetchQueryBatch(ctx context.Context, key models.PropertyKey, day time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error) {
	m.batchCalls.Add(1)
	if m.batchFunc != nil {
		return m.batchFunc(ctx, key, day, reqs)
	}
	return oneRowEach(reqs), nil
}

// oneRowEach answers every sub-request with a single row, ending pagination.
func oneRowEach(reqs []models.QueryRequest) []models.QueryResponse {
	out := make([]models.QueryResponse, len(reqs))
	for i, r := range reqs {
		out[i] = models.QueryResponse{Rows: []models.DimensionRow{{
			Keys:      []string{string(r.Dimension) + "-value"},
			MetricRow: models.MetricRow{Clicks: 1, Impressions: 10},
		}}}
	}
	return out
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu          stdsync.Mutex
	days        map[string]models.SyncDay
	dead        map[string]models.DeadLetterEntry
	payloads    map[string]*models.DayPayload
	staged      map[string][]models.QueryMetric
	transitions []string
	commitErr   func(day time.Time) error
	historyErr  error

	// Optional failure and latency hooks.
	statusErr  func(status models.DayStatus) error
	failedErr  error
	stageHook  func(day time.Time)
	stageCalls atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		days:     make(map[string]models.SyncDay),
		dead:     make(map[string]models.DeadLetterEntry),
		payloads: make(map[string]*models.DayPayload),
		staged:   make(map[string][]models.QueryMetric),
	}
}

func storeKey(k models.PropertyKey, d time.Time) string {
	return k.String() + "|" + models.FormatDay(d)
}

func (s *fakeStore) seed(key models.PropertyKey, day time.Time, status models.DayStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[storeKey(key, day)] = models.SyncDay{PropertyKey: key, Date: day, Status: status}
}

func (s *fakeStore) day(key models.PropertyKey, day time.Time) (models.SyncDay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.days[storeKey(key, day)]
	return d, ok
}

func (s *fakeStore) deadLetterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dead)
}

func (s *fakeStore) countStatus(status models.DayStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.days {
		if d.Status == status {
			n++
		}
	}
	return n
}

func (s *fakeStore) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transitions...)
}

func (s *fakeStore) LoadHistory(_ context.Context, key models.PropertyKey, from, to time.Time) ([]models.SyncDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []models.SyncDay
	for _, d := range s.days {
		if d.PropertyKey != key {
			continue
		}
		if (!from.IsZero() && d.Date.Before(from)) || (!to.IsZero() && d.Date.After(to)) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *fakeStore) setStatus(key models.PropertyKey, day time.Time, runID string, status models.DayStatus, errMsg string) {
	k := storeKey(key, day)
	d := s.days[k]
	d.PropertyKey, d.Date, d.Status, d.Error, d.RunID = key, day, status, errMsg, runID
	d.LastSyncedAt = time.Now()
	if status == models.DaySkipped {
		d.RowsWritten, d.BatchesWritten = 0, 0
	}
	if status != models.DayRunning {
		delete(s.staged, k)
	}
	s.days[k] = d
	s.transitions = append(s.transitions, models.FormatDay(day)+":"+string(status))
}

func (s *fakeStore) MarkDayStatus(_ context.Context, key models.PropertyKey, day time.Time, runID string, status models.DayStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		if err := s.statusErr(status); err != nil {
			return err
		}
	}
	s.setStatus(key, day, runID, status, errMsg)
	return nil
}

func (s *fakeStore) StageQueries(_ context.Context, key models.PropertyKey, day time.Time, _ string, rows []models.QueryMetric) error {
	s.stageCalls.Add(1)
	if s.stageHook != nil {
		s.stageHook(day)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(key, day)
	s.staged[k] = append(s.staged[k], rows...)
	return nil
}

func (s *fakeStore) CommitDay(_ context.Context, key models.PropertyKey, day time.Time, runID string, payload *models.DayPayload) error {
	s.mu.Lock()
	hook := s.commitErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(day); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(key, day)
	committed := &models.DayPayload{
		Daily:   payload.Daily,
		Queries: append(append([]models.QueryMetric(nil), payload.Queries...), s.staged[k]...),
		Batches: payload.Batches,
	}
	s.setStatus(key, day, runID, models.DayComplete, "")
	d := s.days[k]
	d.RowsWritten, d.BatchesWritten = committed.RowCount(), committed.Batches
	s.days[k] = d
	s.payloads[k] = committed
	delete(s.dead, k)
	return nil
}

func (s *fakeStore) MarkDayFailed(_ context.Context, key models.PropertyKey, day time.Time, runID, reason string) (*models.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedErr != nil {
		return nil, s.failedErr
	}
	s.setStatus(key, day, runID, models.DayFailed, reason)
	k := storeKey(key, day)
	now := time.Now()
	e, ok := s.dead[k]
	if !ok {
		e = models.DeadLetterEntry{PropertyKey: key, Date: day, FirstSeenAt: now}
	}
	e.Reason, e.LastFailedAt = reason, now
	e.Attempts++
	s.dead[k] = e
	return &e, nil
}

func (s *fakeStore) ListDeadLetters(_ context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeadLetterEntry
	for _, e := range s.dead {
		if key == nil || e.PropertyKey == *key {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *fakeStore) GetDeadLetter(_ context.Context, key models.PropertyKey, day time.Time) (*models.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dead[storeKey(key, day)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *fakeStore) ClearDeadLetters(_ context.Context, key *models.PropertyKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.dead {
		if key == nil || e.PropertyKey == *key {
			delete(s.dead, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) RecoverInterrupted(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, d := range s.days {
		if d.Status == models.DayRunning {
			d.Status = models.DayHalted
			s.days[k] = d
			n++
		}
	}
	return n, nil
}

// fakeDirectory allows everything except the listed properties.
type fakeDirectory struct {
	denied map[models.PropertyKey]bool
}

func (d *fakeDirectory) Authorize(_ context.Context, key models.PropertyKey) (bool, error) {
	return !d.denied[key], nil
}

// startEngine serves an engine with a fixed clock until the test ends.
func startEngine(t *testing.T, cfg *config.Config, deps Dependencies) *Engine {
	t.Helper()

	e, err := NewEngine(cfg, deps)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.now = func() time.Time { return testToday.Add(9 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = e.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e
}

// collectUntilFinished reads events until the run's finished event.
func collectUntilFinished(t *testing.T, sub *Subscription) ([]Event, FinishedEvent) {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed before finished event")
			}
			events = append(events, ev)
			if f, ok := ev.(FinishedEvent); ok {
				return events, f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for finished event; got %d events", len(events))
		}
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
