// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/searchsync/internal/models"
)

// EventKind discriminates the closed set of engine events.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventStepStarted   EventKind = "step_started"
	EventStepCompleted EventKind = "step_completed"
	EventPaused        EventKind = "paused"
	EventResumed       EventKind = "resumed"
	EventStopping      EventKind = "stopping"
	EventFinished      EventKind = "finished"
)

// EventKinds lists every kind in lifecycle order.
var EventKinds = []EventKind{
	EventStarted, EventStepStarted, EventStepCompleted,
	EventPaused, EventResumed, EventStopping, EventFinished,
}

// Event is implemented only by the event types in this file.
type Event interface {
	Kind() EventKind
	Header() EventHeader
	isEvent()
}

// EventHeader is carried by every event.
type EventHeader struct {
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Caption   string    `json:"caption"`
	Percent   float64   `json:"percent"`
	Counters  Counters  `json:"counters"`
}

// Header returns the common fields.
func (h EventHeader) Header() EventHeader { return h }

// StartedEvent is emitted once the day list is planned.
type StartedEvent struct {
	EventHeader
	Request    models.SyncRequest `json:"request"`
	TotalSteps int                `json:"total_steps"`
}

// StepStartedEvent is emitted when a day enters the dispatcher.
type StepStartedEvent struct {
	EventHeader
	Date time.Time `json:"date"`
	Step int       `json:"step"`
}

// StepCompletedEvent carries one day's outcome.
type StepCompletedEvent struct {
	EventHeader
	Date       time.Time        `json:"date"`
	Status     models.DayStatus `json:"status"`
	Rows       int64            `json:"rows"`
	Batches    int64            `json:"batches"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// PausedEvent is emitted when a pause is accepted.
type PausedEvent struct {
	EventHeader
}

// ResumedEvent is emitted when a paused run resumes.
type ResumedEvent struct {
	EventHeader
}

// StoppingEvent is emitted when a stop is accepted; the run is cancelling.
type StoppingEvent struct {
	EventHeader
}

// FinishedEvent is the last event of every run.
type FinishedEvent struct {
	EventHeader
	Status  RunStatus  `json:"status"`
	Error   string     `json:"error,omitempty"`
	Summary RunSummary `json:"summary"`
}

func (StartedEvent) Kind() EventKind       { return EventStarted }
func (StepStartedEvent) Kind() EventKind   { return EventStepStarted }
func (StepCompletedEvent) Kind() EventKind { return EventStepCompleted }
func (PausedEvent) Kind() EventKind        { return EventPaused }
func (ResumedEvent) Kind() EventKind       { return EventResumed }
func (StoppingEvent) Kind() EventKind      { return EventStopping }
func (FinishedEvent) Kind() EventKind      { return EventFinished }

func (StartedEvent) isEvent()       {}
func (StepStartedEvent) isEvent()   {}
func (StepCompletedEvent) isEvent() {}
func (PausedEvent) isEvent()        {}
func (ResumedEvent) isEvent()       {}
func (StoppingEvent) isEvent()      {}
func (FinishedEvent) isEvent()      {}

// envelope is the wire form shared by the websocket and NATS forwarders.
type envelope struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent marshals e as {"type": kind, "data": {...}}.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Type: e.Kind(), Data: data})
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	var ev Event
	var err error
	switch env.Type {
	case EventStarted:
		var e StartedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventStepStarted:
		var e StepStartedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventStepCompleted:
		var e StepCompletedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventPaused:
		var e PausedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventResumed:
		var e ResumedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventStopping:
		var e StoppingEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventFinished:
		var e FinishedEvent
		err = json.Unmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", env.Type, err)
	}
	return ev, nil
}

// EventRecord is the compact form of an event kept in RunProgress history.
type EventRecord struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Caption   string    `json:"caption"`
}

func recordOf(e Event) EventRecord {
	h := e.Header()
	return EventRecord{Seq: h.Seq, Kind: e.Kind(), Timestamp: h.Timestamp, Caption: h.Caption}
}
