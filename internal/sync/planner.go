// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"fmt"
	"time"

	"github.com/tomtom215/searchsync/internal/models"
)

// PlanRange resolves req to its inclusive [from, to] window relative to
// today. Days after yesterday are never planned because the API has not
// finished reporting them.
func PlanRange(req models.SyncRequest, today time.Time, lookbackDays int) (from, to time.Time, err error) {
	today = models.Day(today)
	yesterday := today.AddDate(0, 0, -1)

	switch req.Mode {
	case models.RangeFullHistory:
		if lookbackDays < 1 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: lookback horizon must be at least one day", ErrInvalidRequest)
		}
		return today.AddDate(0, 0, -lookbackDays), yesterday, nil

	case models.RangeLastNDays:
		if req.Days < 1 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: last_n_days requires days >= 1", ErrInvalidRequest)
		}
		return today.AddDate(0, 0, -req.Days), yesterday, nil

	case models.RangeExplicitRange:
		if req.From.IsZero() || req.To.IsZero() {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: explicit_range requires from and to", ErrInvalidRequest)
		}
		from, to = models.Day(req.From), models.Day(req.To)
		if from.After(to) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is after to %s",
				ErrInvalidRequest, models.FormatDay(from), models.FormatDay(to))
		}
		if to.After(yesterday) {
			to = yesterday
		}
		return from, to, nil

	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown range mode %q", ErrInvalidRequest, req.Mode)
	}
}

// PlanDays returns the days req should process, oldest first. A day is
// dropped when history already holds a complete SyncDay for it, unless
// req.Force is set. Failed, halted, skipped and unseen days are always kept.
//
// PlanDays performs no I/O; history is whatever the caller loaded for the
// request's property.
func PlanDays(req models.SyncRequest, history []models.SyncDay, today time.Time, lookbackDays int) ([]time.Time, error) {
	from, to, err := PlanRange(req, today, lookbackDays)
	if err != nil {
		return nil, err
	}

	status := make(map[string]models.DayStatus, len(history))
	for _, d := range history {
		if d.PropertyKey != req.PropertyKey {
			continue
		}
		status[models.FormatDay(d.Date)] = d.Status
	}

	var days []time.Time
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !req.Force && status[models.FormatDay(day)] == models.DayComplete {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}
