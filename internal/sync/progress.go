// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/searchsync/internal/models"
)

// RunStatus is the state of the current run.
type RunStatus string

const (
	RunIdle                  RunStatus = "idle"
	RunRunning               RunStatus = "running"
	RunPaused                RunStatus = "paused"
	RunCancelling            RunStatus = "cancelling"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunCancelled             RunStatus = "cancelled"
	RunFailed                RunStatus = "failed"
)

// Active reports whether a run in this status blocks a new Start.
func (s RunStatus) Active() bool {
	return s == RunRunning || s == RunPaused || s == RunCancelling
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithWarnings, RunCancelled, RunFailed:
		return true
	}
	return false
}

// Counters are cumulative per-run work counters.
type Counters struct {
	Rows          int64 `json:"rows"`
	QueryRequests int64 `json:"query_requests"`
	HTTPBatches   int64 `json:"http_batches"`
	URLRequests   int64 `json:"url_requests"`
	APICalls      int64 `json:"api_calls"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Rows += o.Rows
	c.QueryRequests += o.QueryRequests
	c.HTTPBatches += o.HTTPBatches
	c.URLRequests += o.URLRequests
	c.APICalls += o.APICalls
}

// DayResult is one day's outcome within a run.
type DayResult struct {
	Date       time.Time        `json:"date"`
	Status     models.DayStatus `json:"status"`
	Rows       int64            `json:"rows"`
	Batches    int64            `json:"batches"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// RunSummary is attached to a run once it reaches a terminal state.
type RunSummary struct {
	DaysPlanned  int         `json:"days_planned"`
	DaysComplete int         `json:"days_complete"`
	DaysSkipped  int         `json:"days_skipped"`
	DaysFailed   int         `json:"days_failed"`
	DaysHalted   int         `json:"days_halted"`
	DeadLetters  []time.Time `json:"dead_letters,omitempty"`
	StoppedEarly bool        `json:"stopped_early"`
	DurationMs   int64       `json:"duration_ms"`
}

// RunProgress is the engine's view of the current run. Callers only ever
// see copies.
type RunProgress struct {
	RunID          string              `json:"run_id,omitempty"`
	Request        *models.SyncRequest `json:"request,omitempty"`
	Status         RunStatus           `json:"status"`
	TotalSteps     int                 `json:"total_steps"`
	CompletedSteps int                 `json:"completed_steps"`
	Percent        float64             `json:"percent"`
	CurrentDay     *time.Time          `json:"current_day,omitempty"`
	Caption        string              `json:"caption"`
	Counters       Counters            `json:"counters"`
	Days           []DayResult         `json:"days,omitempty"`
	Events         []EventRecord       `json:"events,omitempty"`
	Summary        *RunSummary         `json:"summary,omitempty"`
	Error          string              `json:"error,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
	Pipeline       PipelineStats       `json:"pipeline"`
}

func idleProgress() *RunProgress {
	return &RunProgress{Status: RunIdle, Caption: "Idle"}
}

// clone deep-copies p so the caller cannot reach engine state.
func (p *RunProgress) clone() RunProgress {
	out := *p
	if p.Request != nil {
		req := *p.Request
		out.Request = &req
	}
	if p.CurrentDay != nil {
		d := *p.CurrentDay
		out.CurrentDay = &d
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	if p.Summary != nil {
		s := *p.Summary
		s.DeadLetters = append([]time.Time(nil), p.Summary.DeadLetters...)
		out.Summary = &s
	}
	out.Days = append([]DayResult(nil), p.Days...)
	out.Events = append([]EventRecord(nil), p.Events...)
	return out
}

// updatePercent recomputes Percent. It never exceeds 100 and is exactly
// 100 once the run is terminal.
func (p *RunProgress) updatePercent() {
	switch {
	case p.Status.Terminal():
		p.Percent = 100
	case p.TotalSteps <= 0:
		p.Percent = 0
	default:
		pct := float64(p.CompletedSteps) / float64(p.TotalSteps) * 100
		p.Percent = math.Min(100, math.Floor(pct*10)/10)
	}
}

// recordEvent appends to the bounded history, dropping the oldest.
func (p *RunProgress) recordEvent(e Event, limit int) {
	p.Events = append(p.Events, recordOf(e))
	if limit > 0 && len(p.Events) > limit {
		p.Events = append([]EventRecord(nil), p.Events[len(p.Events)-limit:]...)
	}
}

func (p *RunProgress) caption() string {
	switch p.Status {
	case RunIdle:
		return "Idle"
	case RunRunning:
		if p.CurrentDay != nil {
			return fmt.Sprintf("Syncing %s (%d of %d days done)", models.FormatDay(*p.CurrentDay), p.CompletedSteps, p.TotalSteps)
		}
		if p.TotalSteps == 0 && p.CompletedSteps == 0 {
			return "Planning"
		}
		return fmt.Sprintf("%d of %d days done", p.CompletedSteps, p.TotalSteps)
	case RunPaused:
		return fmt.Sprintf("Paused after %d of %d days", p.CompletedSteps, p.TotalSteps)
	case RunCancelling:
		return "Stopping after the current day"
	case RunCompleted:
		return fmt.Sprintf("Completed %d days, %d rows", p.CompletedSteps, p.Counters.Rows)
	case RunCompletedWithWarnings:
		failed := 0
		if p.Summary != nil {
			failed = p.Summary.DaysFailed
		}
		return fmt.Sprintf("Completed %d of %d days with warnings (%d failed)", p.CompletedSteps, p.TotalSteps, failed)
	case RunCancelled:
		return fmt.Sprintf("Cancelled after %d of %d days", p.CompletedSteps, p.TotalSteps)
	case RunFailed:
		return "Failed: " + p.Error
	}
	return string(p.Status)
}
