// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/models"
	"github.com/tomtom215/searchsync/internal/searchapi"
)

func TestEngineLastNDaysSkipsCompleteDay(t *testing.T) {
	store := newFakeStore()
	store.seed(testKey, daysAgo(1), models.DayComplete)
	client := &mockClient{}
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})

	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 3)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCompleted {
		t.Fatalf("status = %s, want completed (error %q)", fin.Status, fin.Error)
	}
	started, ok := events[0].(StartedEvent)
	if !ok || started.TotalSteps != 2 {
		t.Fatalf("first event = %#v, want started with 2 steps", events[0])
	}

	state, err := e.CurrentState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.CompletedSteps != 2 || state.Percent != 100 {
		t.Errorf("state = completed %d, percent %v", state.CompletedSteps, state.Percent)
	}
	for _, ago := range []int{3, 2} {
		d, _ := store.day(testKey, daysAgo(ago))
		if d.Status != models.DayComplete {
			t.Errorf("day -%d status = %s, want complete", ago, d.Status)
		}
	}
	if got := client.dayCalls.Load(); got != 2 {
		t.Errorf("day fetches = %d, want 2", got)
	}

	// Rows: one daily + one per dimension, per day.
	if state.Counters.Rows != 6 {
		t.Errorf("counters.rows = %d, want 6", state.Counters.Rows)
	}
	if state.Counters.QueryRequests != 4 || state.Counters.URLRequests != 2 || state.Counters.HTTPBatches != 2 {
		t.Errorf("counters = %+v", state.Counters)
	}
}

func TestEngineAllCompleteDispatchesNothing(t *testing.T) {
	store := newFakeStore()
	for ago := 1; ago <= 3; ago++ {
		store.seed(testKey, daysAgo(ago), models.DayComplete)
	}
	client := &mockClient{}
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 3)); err != nil {
		t.Fatal(err)
	}
	_, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCompleted || fin.Percent != 100 {
		t.Errorf("finished = %s at %v%%", fin.Status, fin.Percent)
	}
	if client.dayCalls.Load() != 0 || client.batchCalls.Load() != 0 {
		t.Errorf("dispatched %d day fetches and %d batches, want none", client.dayCalls.Load(), client.batchCalls.Load())
	}
}

// Day -2 keeps returning 503: after three attempts it is dead-lettered and
// the run still processes day -3.
func TestEngineDeadLettersExhaustedDay(t *testing.T) {
	store := newFakeStore()
	store.seed(testKey, daysAgo(1), models.DayComplete)
	failing := daysAgo(2)

	client := &mockClient{}
	var failingCalls int
	client.dayFunc = func(_ context.Context, _ models.PropertyKey, day time.Time, _ string) (*searchapi.DayPage, error) {
		if day.Equal(failing) {
			failingCalls++
			return nil, &searchapi.RetryableError{StatusCode: 503, Message: "search api returned HTTP 503"}
		}
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
	}

	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 3)); err != nil {
		t.Fatal(err)
	}
	_, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCompletedWithWarnings {
		t.Fatalf("status = %s, want completed_with_warnings", fin.Status)
	}
	if failingCalls != 3 {
		t.Errorf("calls for failing day = %d, want 3", failingCalls)
	}
	if d, _ := store.day(testKey, failing); d.Status != models.DayFailed {
		t.Errorf("day -2 = %s, want failed", d.Status)
	}
	if d, _ := store.day(testKey, daysAgo(3)); d.Status != models.DayComplete {
		t.Errorf("day -3 = %s, want complete", d.Status)
	}
	entries, _ := e.DeadLetters().List(context.Background(), &testKey)
	if len(entries) != 1 || !entries[0].Date.Equal(failing) {
		t.Fatalf("dead letters = %+v, want one for day -2", entries)
	}
	if fin.Summary.DaysFailed != 1 || len(fin.Summary.DeadLetters) != 1 || fin.Summary.DaysComplete != 1 {
		t.Errorf("summary = %+v", fin.Summary)
	}
}

// A rejected sub-request batch in the middle of the range must not stop the
// other days from reaching a terminal status.
func TestEnginePartialFailureIsolation(t *testing.T) {
	store := newFakeStore()
	bad := daysAgo(3)
	client := &mockClient{}
	client.batchFunc = func(_ context.Context, _ models.PropertyKey, day time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error) {
		if day.Equal(bad) {
			return nil, &searchapi.PermanentError{StatusCode: 400, Message: "invalid dimension filter"}
		}
		return oneRowEach(reqs), nil
	}

	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 5)); err != nil {
		t.Fatal(err)
	}
	_, fin := collectUntilFinished(t, sub)
	if fin.Status != RunCompletedWithWarnings {
		t.Fatalf("status = %s", fin.Status)
	}

	for ago := 1; ago <= 5; ago++ {
		d, ok := store.day(testKey, daysAgo(ago))
		if !ok {
			t.Fatalf("day -%d never attempted", ago)
		}
		want := models.DayComplete
		if ago == 3 {
			want = models.DayFailed
		}
		if d.Status != want {
			t.Errorf("day -%d = %s, want %s", ago, d.Status, want)
		}
	}
	if store.countStatus(models.DayRunning) != 0 {
		t.Error("a day was left running")
	}
}

func TestEnginePercentMonotonicAndOrdered(t *testing.T) {
	store := newFakeStore()
	e := startEngine(t, testConfig(), Dependencies{Client: &mockClient{}, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 7)); err != nil {
		t.Fatal(err)
	}
	events, fin := collectUntilFinished(t, sub)

	last := -1.0
	var lastDay time.Time
	var lastSeq uint64
	for _, ev := range events {
		h := ev.Header()
		if h.Percent < last {
			t.Fatalf("percent went from %v to %v at %s", last, h.Percent, ev.Kind())
		}
		last = h.Percent
		if h.Seq <= lastSeq {
			t.Fatalf("seq %d after %d", h.Seq, lastSeq)
		}
		lastSeq = h.Seq
		if s, ok := ev.(StepStartedEvent); ok {
			if !s.Date.After(lastDay) {
				t.Fatalf("day %s started after %s", models.FormatDay(s.Date), models.FormatDay(lastDay))
			}
			lastDay = s.Date
		}
	}
	if fin.Percent != 100 {
		t.Errorf("final percent = %v", fin.Percent)
	}

	// Per-day transitions are committed in day order.
	var prev string
	for _, tr := range store.log() {
		day := tr[:10]
		if day < prev {
			t.Fatalf("transition %s after day %s", tr, prev)
		}
		prev = day
	}

	state, _ := e.CurrentState(context.Background())
	if len(state.Events) > testConfig().Sync.EventHistory {
		t.Errorf("event history len = %d, want <= %d", len(state.Events), testConfig().Sync.EventHistory)
	}
}

func TestEngineStopOnEmpty(t *testing.T) {
	store := newFakeStore()
	empty := daysAgo(3)
	client := &mockClient{}
	client.dayFunc = func(_ context.Context, _ models.PropertyKey, day time.Time, _ string) (*searchapi.DayPage, error) {
		if day.Equal(empty) {
			return &searchapi.DayPage{}, nil
		}
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
	}

	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	req := models.LastNDays(testKey, 5)
	req.StopOnEmpty = true
	if _, err := e.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	_, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCompletedWithWarnings || !fin.Summary.StoppedEarly {
		t.Fatalf("finished = %s stopped_early=%v", fin.Status, fin.Summary.StoppedEarly)
	}
	if d, _ := store.day(testKey, empty); d.Status != models.DaySkipped {
		t.Errorf("empty day = %s, want skipped", d.Status)
	}
	for _, ago := range []int{2, 1} {
		if _, ok := store.day(testKey, daysAgo(ago)); ok {
			t.Errorf("day -%d was attempted after stop_on_empty halt", ago)
		}
	}
	if client.batchCalls.Load() != 2 {
		t.Errorf("batches = %d, want 2 (days -5 and -4 only)", client.batchCalls.Load())
	}
}

func TestEngineEmptyDayWithoutStopOnEmpty(t *testing.T) {
	store := newFakeStore()
	client := &mockClient{}
	client.dayFunc = func(context.Context, models.PropertyKey, time.Time, string) (*searchapi.DayPage, error) {
		return &searchapi.DayPage{}, nil
	}
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	_, _ = e.Start(context.Background(), models.LastNDays(testKey, 2))
	_, fin := collectUntilFinished(t, sub)
	if fin.Status != RunCompleted || fin.Summary.DaysSkipped != 2 {
		t.Errorf("finished = %s, summary %+v", fin.Status, fin.Summary)
	}
}

func TestEngineAuthFailureFailsRun(t *testing.T) {
	store := newFakeStore()
	client := &mockClient{}
	client.dayFunc = func(context.Context, models.PropertyKey, time.Time, string) (*searchapi.DayPage, error) {
		return nil, &searchapi.AuthError{StatusCode: 401, Message: "token expired"}
	}
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	_, _ = e.Start(context.Background(), models.LastNDays(testKey, 3))
	_, fin := collectUntilFinished(t, sub)

	if fin.Status != RunFailed || fin.Error == "" {
		t.Fatalf("finished = %s error=%q, want failed with error", fin.Status, fin.Error)
	}
	if client.dayCalls.Load() != 1 {
		t.Errorf("day fetches = %d, auth errors must not be retried", client.dayCalls.Load())
	}
	if d, _ := store.day(testKey, daysAgo(3)); d.Status != models.DayHalted {
		t.Errorf("day -3 = %s, want halted", d.Status)
	}
	if store.deadLetterCount() != 0 {
		t.Error("auth failure must not dead-letter the day")
	}
}

func TestEngineHistoryLoadFailureFailsRun(t *testing.T) {
	store := newFakeStore()
	store.historyErr = errors.New("duckdb: connection reset")
	e := startEngine(t, testConfig(), Dependencies{Client: &mockClient{}, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	_, _ = e.Start(context.Background(), models.LastNDays(testKey, 3))
	_, fin := collectUntilFinished(t, sub)
	if fin.Status != RunFailed {
		t.Errorf("status = %s, want failed", fin.Status)
	}
}

func TestEngineStartRejections(t *testing.T) {
	denied := models.PropertyKey{AccountID: "acct-1", PropertyID: "denied"}
	release := make(chan struct{})
	entered := make(chan struct{}, 10)
	client := &mockClient{}
	client.dayFunc = func(ctx context.Context, _ models.PropertyKey, _ time.Time, _ string) (*searchapi.DayPage, error) {
		entered <- struct{}{}
		<-release
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
	}
	e := startEngine(t, testConfig(), Dependencies{
		Client:    client,
		Store:     newFakeStore(),
		Directory: &fakeDirectory{denied: map[models.PropertyKey]bool{denied: true}},
	})
	defer close(release)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.SyncRequest
		want error
	}{
		{"unauthorized", models.LastNDays(denied, 1), ErrUnauthorized},
		{"missing property", models.LastNDays(models.PropertyKey{AccountID: "a"}, 1), ErrInvalidRequest},
		{"bad mode", models.SyncRequest{PropertyKey: testKey, Mode: "hourly"}, ErrInvalidRequest},
		{"inverted range", models.ExplicitRange(testKey, daysAgo(1), daysAgo(4)), ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Start(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := e.Start(ctx, models.LastNDays(testKey, 2)); err != nil {
		t.Fatal(err)
	}
	<-entered
	other := models.PropertyKey{AccountID: "acct-1", PropertyID: "second"}
	for _, req := range []models.SyncRequest{models.LastNDays(testKey, 2), models.LastNDays(other, 2)} {
		if _, err := e.Start(ctx, req); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("second Start(%s) error = %v, want ErrAlreadyRunning", req.PropertyKey, err)
		}
	}
	if err := e.Reset(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Reset() during run error = %v, want ErrAlreadyRunning", err)
	}
}

// blockingClient parks every day fetch until released, reporting which day
// entered.
type blockingClient struct {
	mockClient
	entered chan time.Time
	release chan struct{}
}

func newBlockingClient() *blockingClient {
	c := &blockingClient{entered: make(chan time.Time, 16), release: make(chan struct{}, 16)}
	c.dayFunc = func(ctx context.Context, _ models.PropertyKey, day time.Time, _ string) (*searchapi.DayPage, error) {
		c.entered <- day
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 1}}}, nil
	}
	return c
}

func TestEnginePauseResumeBeforeBoundary(t *testing.T) {
	store := newFakeStore()
	client := newBlockingClient()
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	runID, err := e.Start(ctx, models.LastNDays(testKey, 2))
	if err != nil {
		t.Fatal(err)
	}
	<-client.entered
	before := store.log()

	_ = e.Pause(ctx, runID)
	_ = e.Resume(ctx, runID)
	if got := store.log(); len(got) != len(before) {
		t.Errorf("pause/resume changed SyncDay history: %v -> %v", before, got)
	}

	client.release <- struct{}{}
	<-client.entered
	client.release <- struct{}{}

	events, fin := collectUntilFinished(t, sub)
	if fin.Status != RunCompleted {
		t.Fatalf("status = %s", fin.Status)
	}
	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind())
	}
	if !containsKind(kinds, EventPaused) || !containsKind(kinds, EventResumed) {
		t.Errorf("events = %v, want paused and resumed", kinds)
	}
}

func TestEnginePauseHoldsNextDay(t *testing.T) {
	store := newFakeStore()
	client := newBlockingClient()
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	runID, _ := e.Start(ctx, models.LastNDays(testKey, 2))
	first := <-client.entered
	_ = e.Pause(ctx, runID)
	client.release <- struct{}{}

	// The in-flight day finishes; the next one must not start while paused.
	waitFor(t, "first day commit", func() bool {
		s, _ := e.CurrentState(ctx)
		return s.CompletedSteps == 1
	})
	if d, _ := store.day(testKey, first); d.Status != models.DayComplete {
		t.Fatalf("first day = %s, want complete", d.Status)
	}
	select {
	case day := <-client.entered:
		t.Fatalf("day %s started while paused", models.FormatDay(day))
	case <-time.After(50 * time.Millisecond):
	}
	state, _ := e.CurrentState(ctx)
	if state.Status != RunPaused || state.CompletedSteps != 1 {
		t.Errorf("state = %s completed=%d", state.Status, state.CompletedSteps)
	}

	// Stale ids are ignored.
	_ = e.Resume(ctx, "not-this-run")
	if s, _ := e.CurrentState(ctx); s.Status != RunPaused {
		t.Errorf("stale resume changed status to %s", s.Status)
	}

	_ = e.Resume(ctx, runID)
	<-client.entered
	client.release <- struct{}{}
	if _, fin := collectUntilFinished(t, sub); fin.Status != RunCompleted {
		t.Errorf("status = %s", fin.Status)
	}
}

// Stop mid-run: the day in flight commits, then the run is cancelled and
// no SyncDay is left running.
func TestEngineStopMidRun(t *testing.T) {
	store := newFakeStore()
	client := newBlockingClient()
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	runID, _ := e.Start(ctx, models.LastNDays(testKey, 3))
	inFlight := <-client.entered

	if err := e.Stop(ctx, runID); err != nil {
		t.Fatal(err)
	}
	if s, _ := e.CurrentState(ctx); s.Status != RunCancelling {
		t.Errorf("status after stop = %s, want cancelling", s.Status)
	}
	// Repeated stop is a no-op.
	_ = e.Stop(ctx, runID)

	client.release <- struct{}{}
	events, fin := collectUntilFinished(t, sub)

	if fin.Status != RunCancelled || fin.Percent != 100 {
		t.Fatalf("finished = %s at %v%%", fin.Status, fin.Percent)
	}
	if d, _ := store.day(testKey, inFlight); d.Status != models.DayComplete {
		t.Errorf("in-flight day = %s, want complete", d.Status)
	}
	if store.countStatus(models.DayRunning) != 0 {
		t.Error("a day was left running")
	}
	if _, ok := store.day(testKey, daysAgo(1)); ok {
		t.Error("day after stop was started")
	}
	stopping := 0
	for _, ev := range events {
		if ev.Kind() == EventStopping {
			stopping++
		}
	}
	if stopping != 1 {
		t.Errorf("stopping events = %d, want 1", stopping)
	}
}

func TestEngineShutdownHaltsInFlightDay(t *testing.T) {
	store := newFakeStore()
	client := newBlockingClient()
	e, err := NewEngine(testConfig(), Dependencies{Client: client, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	e.now = func() time.Time { return testToday }

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx) }()

	sub := e.Subscribe()
	defer sub.Close()
	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 2)); err != nil {
		t.Fatal(err)
	}
	day := <-client.entered
	cancel()

	_, fin := collectUntilFinished(t, sub)
	if fin.Status != RunCancelled {
		t.Errorf("status = %s, want cancelled", fin.Status)
	}
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if d, _ := store.day(testKey, day); d.Status != models.DayHalted {
		t.Errorf("interrupted day = %s, want halted", d.Status)
	}
	if _, err := e.Start(context.Background(), models.LastNDays(testKey, 1)); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Start() after shutdown error = %v, want ErrEngineStopped", err)
	}
}

func TestEngineRecoversInterruptedDays(t *testing.T) {
	store := newFakeStore()
	store.seed(testKey, daysAgo(4), models.DayRunning)
	e := startEngine(t, testConfig(), Dependencies{Client: &mockClient{}, Store: store})

	waitFor(t, "recovery", func() bool {
		d, _ := store.day(testKey, daysAgo(4))
		return d.Status == models.DayHalted
	})
	if _, err := e.CurrentState(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetterRetryRemovesEntry(t *testing.T) {
	store := newFakeStore()
	target := daysAgo(2)
	broken := true
	client := &mockClient{}
	client.dayFunc = func(_ context.Context, _ models.PropertyKey, day time.Time, _ string) (*searchapi.DayPage, error) {
		if broken && day.Equal(target) {
			return nil, &searchapi.PermanentError{StatusCode: 404, Message: "property not found"}
		}
		return &searchapi.DayPage{Rows: []models.MetricRow{{Clicks: 3}}}, nil
	}

	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	// A second property's dead letter must survive the retry.
	other := models.PropertyKey{AccountID: "acct-1", PropertyID: "other"}
	_, _ = store.MarkDayFailed(ctx, other, target, "old", "boom")

	_, _ = e.Start(ctx, models.LastNDays(testKey, 3))
	if _, fin := collectUntilFinished(t, sub); fin.Status != RunCompletedWithWarnings {
		t.Fatalf("first run = %s", fin.Status)
	}
	if store.deadLetterCount() != 2 {
		t.Fatalf("dead letters = %d, want 2", store.deadLetterCount())
	}

	if _, err := e.DeadLetters().Retry(ctx, testKey, daysAgo(9)); !errors.Is(err, ErrDeadLetterNotFound) {
		t.Errorf("Retry(unknown) error = %v, want ErrDeadLetterNotFound", err)
	}

	broken = false
	runID, err := e.DeadLetters().Retry(ctx, testKey, target)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	_, fin := collectUntilFinished(t, sub)
	if fin.RunID != runID || fin.Status != RunCompleted || fin.Summary.DaysPlanned != 1 {
		t.Fatalf("retry run = %+v", fin)
	}

	if store.deadLetterCount() != 1 {
		t.Errorf("dead letters after retry = %d, want 1", store.deadLetterCount())
	}
	if entry, _ := store.GetDeadLetter(ctx, other, target); entry == nil {
		t.Error("other property's dead letter was removed")
	}
	if d, _ := store.day(testKey, target); d.Status != models.DayComplete {
		t.Errorf("retried day = %s, want complete", d.Status)
	}
}

func TestDeadLetterRepeatedFailureUpdatesInPlace(t *testing.T) {
	store := newFakeStore()
	client := &mockClient{}
	client.dayFunc = func(context.Context, models.PropertyKey, time.Time, string) (*searchapi.DayPage, error) {
		return nil, &searchapi.PermanentError{StatusCode: 400, Message: "bad request"}
	}
	e := startEngine(t, testConfig(), Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()

	_, _ = e.Start(ctx, models.LastNDays(testKey, 1))
	collectUntilFinished(t, sub)

	if _, err := e.DeadLetters().Retry(ctx, testKey, daysAgo(1)); err != nil {
		t.Fatal(err)
	}
	collectUntilFinished(t, sub)

	entries, _ := e.DeadLetters().List(ctx, nil)
	if len(entries) != 1 || entries[0].Attempts != 2 {
		t.Errorf("entries = %+v, want one entry with 2 attempts", entries)
	}

	n, err := e.DeadLetters().Clear(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("Clear() = %d, %v", n, err)
	}
	if d, _ := store.day(testKey, daysAgo(1)); d.Status != models.DayFailed {
		t.Errorf("Clear must keep SyncDay rows; status = %s", d.Status)
	}
}

func TestEngineQueryPagination(t *testing.T) {
	store := newFakeStore()
	client := &mockClient{}
	// query: two full pages then a short one; page: one short page.
	client.batchFunc = func(_ context.Context, _ models.PropertyKey, _ time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error) {
		out := make([]models.QueryResponse, len(reqs))
		for i, r := range reqs {
			n := 1
			if r.Dimension == models.DimensionQuery && r.StartRow < 4 {
				n = r.RowLimit
			}
			for j := 0; j < n; j++ {
				out[i].Rows = append(out[i].Rows, models.DimensionRow{Keys: []string{"k"}})
			}
		}
		return out, nil
	}
	cfg := testConfig()
	e := startEngine(t, cfg, Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	_, _ = e.Start(context.Background(), models.LastNDays(testKey, 1))
	_, fin := collectUntilFinished(t, sub)
	if fin.Status != RunCompleted {
		t.Fatal(fin.Status)
	}

	d, _ := store.day(testKey, daysAgo(1))
	// daily 1 + query 2+2+1 + page 1
	if d.RowsWritten != 7 {
		t.Errorf("rows = %d, want 7", d.RowsWritten)
	}
	if fin.Counters.QueryRequests != 4 {
		t.Errorf("query requests = %d, want 4", fin.Counters.QueryRequests)
	}
}

func TestEngineQueryPaginationCap(t *testing.T) {
	store := newFakeStore()
	client := &mockClient{}
	client.batchFunc = func(_ context.Context, _ models.PropertyKey, _ time.Time, reqs []models.QueryRequest) ([]models.QueryResponse, error) {
		out := make([]models.QueryResponse, len(reqs))
		for i, r := range reqs {
			for j := 0; j < r.RowLimit; j++ {
				out[i].Rows = append(out[i].Rows, models.DimensionRow{Keys: []string{"k"}})
			}
		}
		return out, nil
	}
	cfg := testConfig()
	cfg.Sync.Dimensions = []string{"query"}
	e := startEngine(t, cfg, Dependencies{Client: client, Store: store})
	sub := e.Subscribe()
	defer sub.Close()

	_, _ = e.Start(context.Background(), models.LastNDays(testKey, 1))
	_, fin := collectUntilFinished(t, sub)
	if fin.Counters.QueryRequests != int64(cfg.Sync.MaxPagesPerDimension) {
		t.Errorf("query requests = %d, want cap %d", fin.Counters.QueryRequests, cfg.Sync.MaxPagesPerDimension)
	}
}

func TestEngineLastRunSnapshot(t *testing.T) {
	snaps, err := OpenSnapshots(&config.BadgerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = snaps.Close() }()

	e := startEngine(t, testConfig(), Dependencies{Client: &mockClient{}, Store: newFakeStore(), Snapshots: snaps})
	ctx := context.Background()

	if last, err := e.LastRun(ctx); err != nil || last != nil {
		t.Fatalf("LastRun() before any run = %v, %v", last, err)
	}

	sub := e.Subscribe()
	defer sub.Close()
	runID, _ := e.Start(ctx, models.LastNDays(testKey, 2))
	collectUntilFinished(t, sub)

	waitFor(t, "snapshot", func() bool {
		last, _ := e.LastRun(ctx)
		return last != nil
	})
	last, _ := e.LastRun(ctx)
	if last.RunID != runID || last.Status != RunCompleted || last.CompletedSteps != 2 {
		t.Errorf("LastRun() = %+v", last)
	}

	if err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if s, _ := e.CurrentState(ctx); s.Status != RunIdle || s.RunID != "" {
		t.Errorf("state after reset = %+v", s)
	}
	if l, _ := e.LastRun(ctx); l == nil {
		t.Error("Reset cleared the last run snapshot")
	}
}

func containsKind(kinds []EventKind, k EventKind) bool {
	for _, got := range kinds {
		if got == k {
			return true
		}
	}
	return false
}
