// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
	"github.com/tomtom215/searchsync/internal/searchapi"
	"github.com/tomtom215/searchsync/internal/validation"
)

// SearchClient is the external paginated API. Implemented by
// searchapi.Client and searchapi.CircuitBreakerClient.
type SearchClient interface {
	FetchDayAggregate(ctx context.Context, key models.PropertyKey, day time.Time, pageToken string) (*searchapi.DayPage, error)
	FetchQueryBatch(ctx context.Context, key models.PropertyKey, day time.Time, requests []models.QueryRequest) ([]models.QueryResponse, error)
}

// Store is the persistence layer. Implemented by database.DB.
type Store interface {
	LoadHistory(ctx context.Context, key models.PropertyKey, from, to time.Time) ([]models.SyncDay, error)
	MarkDayStatus(ctx context.Context, key models.PropertyKey, day time.Time, runID string, status models.DayStatus, errMsg string) error
	StageQueries(ctx context.Context, key models.PropertyKey, day time.Time, runID string, rows []models.QueryMetric) error
	CommitDay(ctx context.Context, key models.PropertyKey, day time.Time, runID string, payload *models.DayPayload) error
	MarkDayFailed(ctx context.Context, key models.PropertyKey, day time.Time, runID, reason string) (*models.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, key models.PropertyKey, day time.Time) (*models.DeadLetterEntry, error)
	ClearDeadLetters(ctx context.Context, key *models.PropertyKey) (int64, error)
	RecoverInterrupted(ctx context.Context) (int64, error)
}

// Directory decides which properties may be synced.
type Directory interface {
	Authorize(ctx context.Context, key models.PropertyKey) (bool, error)
}

// SnapshotStore keeps the last finished run across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, p *RunProgress) error
	Load(ctx context.Context) (*RunProgress, error)
}

// Dependencies are the engine's collaborators. Directory and Snapshots are
// optional.
type Dependencies struct {
	Client    SearchClient
	Store     Store
	Directory Directory
	Snapshots SnapshotStore
}

// Engine runs at most one sync at a time. Its state lives on the goroutine
// started by Serve; every exported method is a message to it.
type Engine struct {
	cfg         *config.SyncConfig
	store       Store
	dir         Directory
	snapshots   SnapshotStore
	writer      *Writer
	bp          *Controller
	retry       *RetryPolicy
	broadcaster *Broadcaster
	disp        *dispatcher
	now         func() time.Time

	cmds    chan interface{}
	done    chan struct{}
	serving atomic.Bool

	// Owned by the Serve goroutine.
	progress     *RunProgress
	run          *runState
	seq          uint64
	shuttingDown bool
}

// runState is the bookkeeping for the active run.
type runState struct {
	id            string
	req           models.SyncRequest
	cancel        context.CancelFunc
	started       time.Time
	gate          chan bool
	stopRequested bool
	retryOf       bool

	complete, skipped, failed, halted int
	deadLetters                       []time.Time
}

// NewEngine wires an engine. Call Serve to start it.
func NewEngine(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if deps.Client == nil {
		return nil, errors.New("sync engine requires a search client")
	}
	if deps.Store == nil {
		return nil, errors.New("sync engine requires a store")
	}

	writer := NewWriter(cfg.Sync.MaxQueueSize, cfg.Sync.WriterBacklogThreshold)
	bp := NewController(&cfg.Sync, &cfg.SearchAPI, writer)
	retry := NewRetryPolicy(&cfg.Sync)

	return &Engine{
		cfg:         &cfg.Sync,
		store:       deps.Store,
		dir:         deps.Directory,
		snapshots:   deps.Snapshots,
		writer:      writer,
		bp:          bp,
		retry:       retry,
		broadcaster: NewBroadcaster(cfg.Sync.SubscriberBuffer),
		disp:        newDispatcher(&cfg.Sync, deps.Client, deps.Store, writer, bp, retry),
		now:         time.Now,
		cmds:        make(chan interface{}),
		done:        make(chan struct{}),
		progress:    idleProgress(),
	}, nil
}

// Commands sent by callers.
type (
	startCmd struct {
		req     models.SyncRequest
		retryOf bool
		reply   chan startReply
	}
	startReply struct {
		runID string
		err   error
	}
	controlCmd struct {
		op    controlOp
		runID string
		reply chan struct{}
	}
	stateCmd struct {
		reply chan RunProgress
	}
	resetCmd struct {
		reply chan error
	}
)

// Messages sent by the run goroutine.
type (
	plannedMsg struct {
		runID string
		days  []time.Time
	}
	gateMsg struct {
		runID string
		reply chan bool
	}
	dayStartedMsg struct {
		runID string
		date  time.Time
		step  int
	}
	dayDoneMsg struct {
		runID   string
		outcome DayOutcome
	}
	runDoneMsg struct {
		runID        string
		err          error
		interrupted  bool
		stoppedEarly bool
	}
)

type controlOp string

const (
	opPause  controlOp = "pause"
	opResume controlOp = "resume"
	opStop   controlOp = "stop"
)

// Serve runs the engine until ctx is cancelled. On shutdown the active
// run, if any, is interrupted at its next batch boundary, its day is
// recorded halted, and the run ends cancelled before Serve returns.
//
// Serve may only be called once.
func (e *Engine) Serve(ctx context.Context) error {
	if !e.serving.CompareAndSwap(false, true) {
		return ErrEngineStopped
	}
	defer close(e.done)

	if n, err := e.store.RecoverInterrupted(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to recover interrupted sync days")
	} else if n > 0 {
		logging.Warn().Int64("days", n).Msg("Recovered days left running by a previous process")
	}

	go e.writer.Run()
	defer e.writer.Stop()

	logging.Info().Msg("Sync engine started")
	for {
		select {
		case msg := <-e.cmds:
			e.handle(ctx, msg)
		case <-ctx.Done():
			e.shutdown(ctx)
			logging.Info().Msg("Sync engine stopped")
			return nil
		}
	}
}

// shutdown interrupts the active run and keeps serving messages until it
// has reported back.
func (e *Engine) shutdown(ctx context.Context) {
	e.shuttingDown = true
	if e.run == nil {
		return
	}
	e.run.cancel()
	if e.run.gate != nil {
		e.run.gate <- false
		e.run.gate = nil
	}
	for e.run != nil {
		e.handle(ctx, <-e.cmds)
	}
}

func (e *Engine) handle(ctx context.Context, msg interface{}) {
	switch m := msg.(type) {
	case startCmd:
		runID, err := e.handleStart(ctx, m)
		m.reply <- startReply{runID: runID, err: err}
	case controlCmd:
		e.handleControl(m)
		close(m.reply)
	case stateCmd:
		p := e.progress.clone()
		p.Pipeline = e.bp.Stats()
		m.reply <- p
	case resetCmd:
		m.reply <- e.handleReset()
	case plannedMsg:
		e.handlePlanned(m)
	case gateMsg:
		e.handleGate(m)
	case dayStartedMsg:
		e.handleDayStarted(m)
	case dayDoneMsg:
		e.handleDayDone(m)
	case runDoneMsg:
		e.handleRunDone(ctx, m)
	default:
		logging.Error().Str("type", fmt.Sprintf("%T", msg)).Msg("Unknown engine message")
	}
}

// current returns the run addressed by runID, or nil when it is stale.
func (e *Engine) current(runID string) *runState {
	if e.run == nil || e.run.id != runID {
		return nil
	}
	return e.run
}

func (e *Engine) handleStart(ctx context.Context, m startCmd) (string, error) {
	if e.shuttingDown {
		return "", ErrEngineStopped
	}
	if e.progress.Status.Active() {
		return "", ErrAlreadyRunning
	}

	runID := uuid.New().String()
	now := e.now()
	req := m.req
	runCtx, cancel := context.WithCancel(logging.ContextWithRunID(ctx, runID))

	e.run = &runState{id: runID, req: req, cancel: cancel, started: now, retryOf: m.retryOf}
	e.progress = &RunProgress{
		RunID:     runID,
		Request:   &req,
		Status:    RunRunning,
		StartedAt: &now,
	}
	e.progress.Caption = e.progress.caption()

	logging.Ctx(runCtx).Info().
		Str("property", req.PropertyKey.String()).
		Str("mode", string(req.Mode)).
		Bool("force", req.Force).
		Bool("stop_on_empty", req.StopOnEmpty).
		Msg("Sync run accepted")

	go e.execute(runCtx, runID, req)
	return runID, nil
}

func (e *Engine) handleControl(m controlCmd) {
	run := e.current(m.runID)
	if run == nil {
		logging.Debug().Str("run_id", m.runID).Str("op", string(m.op)).Msg("Ignoring control signal for stale run")
		return
	}

	switch m.op {
	case opPause:
		if e.progress.Status != RunRunning {
			return
		}
		e.progress.Status = RunPaused
		e.emit(PausedEvent{EventHeader: e.header()})

	case opResume:
		if e.progress.Status != RunPaused {
			return
		}
		e.progress.Status = RunRunning
		e.emit(ResumedEvent{EventHeader: e.header()})
		if run.gate != nil {
			run.gate <- true
			run.gate = nil
		}

	case opStop:
		if e.progress.Status != RunRunning && e.progress.Status != RunPaused {
			return
		}
		e.progress.Status = RunCancelling
		run.stopRequested = true
		e.emit(StoppingEvent{EventHeader: e.header()})
		if run.gate != nil {
			run.gate <- false
			run.gate = nil
		}
	}
	logging.Info().Str("run_id", run.id).Str("op", string(m.op)).Msg("Sync control signal applied")
}

func (e *Engine) handleReset() error {
	if e.progress.Status.Active() {
		return ErrAlreadyRunning
	}
	e.progress = idleProgress()
	e.bp.SetStatus(PipelineIdle)
	return nil
}

func (e *Engine) handlePlanned(m plannedMsg) {
	if e.current(m.runID) == nil {
		return
	}
	e.progress.TotalSteps = len(m.days)
	e.progress.updatePercent()
	e.emit(StartedEvent{
		EventHeader: e.header(),
		Request:     *e.progress.Request,
		TotalSteps:  len(m.days),
	})
}

func (e *Engine) handleGate(m gateMsg) {
	run := e.current(m.runID)
	switch {
	case run == nil || run.stopRequested || e.shuttingDown:
		m.reply <- false
	case e.progress.Status == RunPaused:
		// Held until resume or stop.
		run.gate = m.reply
	default:
		m.reply <- true
	}
}

func (e *Engine) handleDayStarted(m dayStartedMsg) {
	if e.current(m.runID) == nil {
		return
	}
	d := m.date
	e.progress.CurrentDay = &d
	e.emit(StepStartedEvent{EventHeader: e.header(), Date: m.date, Step: m.step})
}

func (e *Engine) handleDayDone(m dayDoneMsg) {
	run := e.current(m.runID)
	if run == nil {
		return
	}
	out := m.outcome

	switch out.Status {
	case models.DayComplete:
		run.complete++
	case models.DaySkipped:
		run.skipped++
	case models.DayFailed:
		run.failed++
		if out.DeadLetter != nil {
			run.deadLetters = append(run.deadLetters, out.Date)
		}
	case models.DayHalted:
		run.halted++
	}
	if out.Status != models.DayHalted {
		e.progress.CompletedSteps++
	}
	if run.retryOf {
		switch out.Status {
		case models.DayComplete:
			metrics.DeadLetterRetries.WithLabelValues("success").Inc()
		case models.DayFailed, models.DaySkipped:
			// A skipped day commits nothing, so its dead letter stays.
			metrics.DeadLetterRetries.WithLabelValues("failure").Inc()
		}
	}

	e.progress.Counters.Add(out.Counters)
	e.progress.Days = append(e.progress.Days, out.result())
	e.progress.CurrentDay = nil
	e.progress.updatePercent()

	r := out.result()
	e.emit(StepCompletedEvent{
		EventHeader: e.header(),
		Date:        r.Date,
		Status:      r.Status,
		Rows:        r.Rows,
		Batches:     r.Batches,
		DurationMs:  r.DurationMs,
		Error:       r.Error,
	})
}

func (e *Engine) handleRunDone(ctx context.Context, m runDoneMsg) {
	run := e.current(m.runID)
	if run == nil {
		return
	}

	var status RunStatus
	switch {
	case m.err != nil:
		status = RunFailed
		e.progress.Error = m.err.Error()
		e.bp.SetStatus(PipelineError)
	case run.stopRequested || m.interrupted:
		status = RunCancelled
		e.bp.SetStatus(PipelineHalted)
	case m.stoppedEarly || run.failed > 0:
		status = RunCompletedWithWarnings
		e.bp.SetStatus(PipelineIdle)
	default:
		status = RunCompleted
		e.bp.SetStatus(PipelineIdle)
	}

	finished := e.now()
	duration := finished.Sub(run.started)
	e.progress.Status = status
	e.progress.FinishedAt = &finished
	e.progress.CurrentDay = nil
	e.progress.Summary = &RunSummary{
		DaysPlanned:  e.progress.TotalSteps,
		DaysComplete: run.complete,
		DaysSkipped:  run.skipped,
		DaysFailed:   run.failed,
		DaysHalted:   run.halted,
		DeadLetters:  append([]time.Time(nil), run.deadLetters...),
		StoppedEarly: m.stoppedEarly,
		DurationMs:   duration.Milliseconds(),
	}
	e.progress.updatePercent()

	e.emit(FinishedEvent{
		EventHeader: e.header(),
		Status:      status,
		Error:       e.progress.Error,
		Summary:     *e.progress.Summary,
	})

	metrics.RecordSyncRun(string(status), duration)
	logging.Info().
		Str("run_id", run.id).
		Str("status", string(status)).
		Int("days_complete", run.complete).
		Int("days_failed", run.failed).
		Int64("rows", e.progress.Counters.Rows).
		Dur("duration", duration).
		Msg("Sync run finished")

	if e.snapshots != nil {
		snap := e.progress.clone()
		if err := e.snapshots.Save(context.WithoutCancel(ctx), &snap); err != nil {
			logging.Warn().Err(err).Msg("Failed to save last run snapshot")
		}
	}

	run.cancel()
	e.run = nil
}

// header stamps the common event fields from the current progress. The
// caption is recomputed first so the event and RunProgress agree.
func (e *Engine) header() EventHeader {
	e.seq++
	e.progress.Caption = e.progress.caption()
	return EventHeader{
		RunID:     e.progress.RunID,
		Seq:       e.seq,
		Timestamp: e.now(),
		Caption:   e.progress.Caption,
		Percent:   e.progress.Percent,
		Counters:  e.progress.Counters,
	}
}

func (e *Engine) emit(ev Event) {
	e.progress.recordEvent(ev, e.cfg.EventHistory)
	e.broadcaster.Publish(ev)
}

// execute is the run goroutine. Days are processed strictly in order; the
// next day starts only after the previous day's writes are acknowledged.
func (e *Engine) execute(ctx context.Context, runID string, req models.SyncRequest) {
	log := logging.Ctx(ctx)

	from, to, err := PlanRange(req, e.now(), e.cfg.LookbackDays)
	if err != nil {
		e.post(runDoneMsg{runID: runID, err: err})
		return
	}
	history, err := e.store.LoadHistory(ctx, req.PropertyKey, from, to)
	if err != nil {
		e.post(runDoneMsg{runID: runID, err: fmt.Errorf("failed to load sync history: %w", err)})
		return
	}
	days, err := PlanDays(req, history, e.now(), e.cfg.LookbackDays)
	if err != nil {
		e.post(runDoneMsg{runID: runID, err: err})
		return
	}
	log.Info().Int("days", len(days)).Int("history", len(history)).Msg("Sync run planned")
	e.post(plannedMsg{runID: runID, days: days})

	for i, day := range days {
		if !e.awaitGate(runID) || ctx.Err() != nil {
			e.post(runDoneMsg{runID: runID, interrupted: true})
			return
		}

		e.post(dayStartedMsg{runID: runID, date: day, step: i + 1})
		out := e.disp.syncDay(ctx, runID, req.PropertyKey, day)
		e.post(dayDoneMsg{runID: runID, outcome: out})

		switch {
		case out.AuthFailure():
			e.post(runDoneMsg{runID: runID, err: out.Err})
			return
		case out.StoreErr != nil:
			e.post(runDoneMsg{runID: runID, err: out.StoreErr})
			return
		case out.Status == models.DayHalted:
			e.post(runDoneMsg{runID: runID, interrupted: true})
			return
		case out.Empty && req.StopOnEmpty:
			log.Info().Str("day", models.FormatDay(day)).Msg("Empty day with stop_on_empty, halting remaining days")
			e.post(runDoneMsg{runID: runID, stoppedEarly: true})
			return
		}
	}
	e.post(runDoneMsg{runID: runID})
}

// post delivers a run goroutine message. Serve keeps receiving until the
// run has reported runDoneMsg, so this never blocks indefinitely.
func (e *Engine) post(msg interface{}) {
	e.cmds <- msg
}

// awaitGate blocks while the run is paused. It returns false when the run
// must stop before the next day.
func (e *Engine) awaitGate(runID string) bool {
	reply := make(chan bool, 1)
	e.post(gateMsg{runID: runID, reply: reply})
	return <-reply
}

func (e *Engine) send(ctx context.Context, msg interface{}) error {
	select {
	case e.cmds <- msg:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start validates req, checks authorization and starts a run. It returns
// ErrInvalidRequest, ErrUnauthorized or ErrAlreadyRunning on rejection.
func (e *Engine) Start(ctx context.Context, req models.SyncRequest) (string, error) {
	return e.start(ctx, req, false)
}

func (e *Engine) start(ctx context.Context, req models.SyncRequest, retryOf bool) (string, error) {
	if verr := validation.ValidateStruct(req); verr != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRequest, verr.Error())
	}
	if _, _, err := PlanRange(req, e.now(), e.cfg.LookbackDays); err != nil {
		return "", err
	}
	if e.dir != nil {
		ok, err := e.dir.Authorize(ctx, req.PropertyKey)
		if err != nil {
			return "", fmt.Errorf("authorization check failed: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnauthorized, req.PropertyKey)
		}
	}

	reply := make(chan startReply, 1)
	if err := e.send(ctx, startCmd{req: req, retryOf: retryOf, reply: reply}); err != nil {
		return "", err
	}
	r := <-reply
	return r.runID, r.err
}

func (e *Engine) control(ctx context.Context, op controlOp, runID string) error {
	reply := make(chan struct{})
	if err := e.send(ctx, controlCmd{op: op, runID: runID, reply: reply}); err != nil {
		return err
	}
	<-reply
	return nil
}

// Pause stops the run from starting new days. The day in flight finishes.
// A stale runID is ignored.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	return e.control(ctx, opPause, runID)
}

// Resume continues a paused run. A stale runID is ignored.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	return e.control(ctx, opResume, runID)
}

// Stop cancels the run after the day in flight is committed. A stale runID
// is ignored.
func (e *Engine) Stop(ctx context.Context, runID string) error {
	return e.control(ctx, opStop, runID)
}

// CurrentState returns a snapshot of the current RunProgress.
func (e *Engine) CurrentState(ctx context.Context) (RunProgress, error) {
	reply := make(chan RunProgress, 1)
	if err := e.send(ctx, stateCmd{reply: reply}); err != nil {
		return RunProgress{}, err
	}
	return <-reply, nil
}

// Reset returns a finished run to idle. It fails with ErrAlreadyRunning
// while a run is active.
func (e *Engine) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := e.send(ctx, resetCmd{reply: reply}); err != nil {
		return err
	}
	return <-reply
}

// Subscribe opens an event stream. Close it when done.
func (e *Engine) Subscribe() *Subscription {
	return e.broadcaster.Subscribe()
}

// Pipeline returns the backpressure controller's current gauge.
func (e *Engine) Pipeline() PipelineStats {
	return e.bp.Stats()
}

// LastRun returns the most recently finished run, surviving restarts. It
// returns nil when no run has finished yet.
func (e *Engine) LastRun(ctx context.Context) (*RunProgress, error) {
	if e.snapshots == nil {
		return nil, nil
	}
	return e.snapshots.Load(ctx)
}

// History returns the persisted SyncDay rows for key in [from, to]. Zero
// bounds are open.
func (e *Engine) History(ctx context.Context, key models.PropertyKey, from, to time.Time) ([]models.SyncDay, error) {
	return e.store.LoadHistory(ctx, key, from, to)
}
