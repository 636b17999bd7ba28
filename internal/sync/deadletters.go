// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
)

// DeadLetters is the operator view of the dead letter store. Entries are
// only removed by a successful retry or by Clear.
type DeadLetters struct {
	e *Engine
}

// DeadLetters returns the engine's dead letter operations.
func (e *Engine) DeadLetters() *DeadLetters {
	return &DeadLetters{e: e}
}

// List returns entries for key, or for all properties when key is nil.
func (d *DeadLetters) List(ctx context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error) {
	return d.e.store.ListDeadLetters(ctx, key)
}

// Retry re-runs a single dead-lettered day with Force set and StopOnEmpty
// cleared. The entry is removed when the day commits; a repeated failure
// updates it in place.
func (d *DeadLetters) Retry(ctx context.Context, key models.PropertyKey, date time.Time) (string, error) {
	date = models.Day(date)
	entry, err := d.e.store.GetDeadLetter(ctx, key, date)
	if err != nil {
		return "", fmt.Errorf("failed to look up dead letter: %w", err)
	}
	if entry == nil {
		metrics.DeadLetterRetries.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: %s %s", ErrDeadLetterNotFound, key, models.FormatDay(date))
	}

	req := models.ExplicitRange(key, date, date)
	req.Force = true
	req.StopOnEmpty = false

	runID, err := d.e.start(ctx, req, true)
	if err != nil {
		metrics.DeadLetterRetries.WithLabelValues("rejected").Inc()
		return "", err
	}
	logging.Info().
		Str("run_id", runID).
		Str("property", key.String()).
		Str("day", models.FormatDay(date)).
		Int("attempts", entry.Attempts).
		Msg("Dead letter retry submitted")
	return runID, nil
}

// Clear removes entries for key, or every entry when key is nil. The write
// goes through the engine writer like every other dead letter change.
func (d *DeadLetters) Clear(ctx context.Context, key *models.PropertyKey) (int64, error) {
	var n int64
	err := d.e.writer.Do(ctx, "clear_dead_letters", func(c context.Context) error {
		var err error
		n, err = d.e.store.ClearDeadLetters(c, key)
		return err
	})
	if err != nil {
		return 0, err
	}
	logging.Warn().Int64("entries", n).Msg("Dead letters cleared")
	return n, nil
}
