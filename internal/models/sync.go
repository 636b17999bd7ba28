// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar day format used on the wire and in storage.
const DateLayout = "2006-01-02"

// PropertyKey identifies one property within one account.
type PropertyKey struct {
	AccountID  string `json:"account_id" validate:"required,max=128"`
	PropertyID string `json:"property_id" validate:"required,max=512"`
}

func (k PropertyKey) String() string {
	return k.AccountID + "/" + k.PropertyID
}

// RangeMode selects how a SyncRequest expands into calendar days.
type RangeMode string

const (
	RangeFullHistory   RangeMode = "full_history"
	RangeLastNDays     RangeMode = "last_n_days"
	RangeExplicitRange RangeMode = "explicit_range"
)

// SyncRequest is an operator's instruction to synchronize a date range for
// one property. It is a value and is never mutated after submission.
type SyncRequest struct {
	PropertyKey

	Mode RangeMode `json:"mode" validate:"required,oneof=full_history last_n_days explicit_range"`

	// Days is used by RangeLastNDays.
	Days int `json:"days,omitempty" validate:"omitempty,min=1,max=1000"`

	// From and To are inclusive and used by RangeExplicitRange.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	// Force re-syncs days that are already complete.
	Force bool `json:"force"`

	// StopOnEmpty halts the remaining sequence when a day fetch returns no rows.
	StopOnEmpty bool `json:"stop_on_empty"`
}

// FullHistory builds a request covering the lookback horizon.
func FullHistory(key PropertyKey) SyncRequest {
	return SyncRequest{PropertyKey: key, Mode: RangeFullHistory}
}

// LastNDays builds a request for the n days before today.
func LastNDays(key PropertyKey, n int) SyncRequest {
	return SyncRequest{PropertyKey: key, Mode: RangeLastNDays, Days: n}
}

// ExplicitRange builds a request for [from, to] inclusive.
func ExplicitRange(key PropertyKey, from, to time.Time) SyncRequest {
	return SyncRequest{PropertyKey: key, Mode: RangeExplicitRange, From: Day(from), To: Day(to)}
}

// DayStatus is the lifecycle state of one synced day.
type DayStatus string

const (
	DayPending  DayStatus = "pending"
	DayRunning  DayStatus = "running"
	DayComplete DayStatus = "complete"
	DaySkipped  DayStatus = "skipped"
	DayFailed   DayStatus = "failed"
	DayHalted   DayStatus = "halted"
)

// SyncDay is the persisted record of one (property, date) synchronization
// attempt. Rows are never deleted, only transitioned.
type SyncDay struct {
	PropertyKey
	Date           time.Time `json:"date"`
	Status         DayStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	RowsWritten    int64     `json:"rows_written"`
	BatchesWritten int64     `json:"batches_written"`
	RunID          string    `json:"run_id,omitempty"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
}

// DeadLetterEntry records a day whose synchronization failed after retries.
type DeadLetterEntry struct {
	PropertyKey
	Date         time.Time `json:"date"`
	Reason       string    `json:"reason"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
	Attempts     int       `json:"attempts"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a date as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDay parses YYYY-MM-DD into midnight UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
