// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
)

// MarkDayFailed records a day as failed and upserts its dead letter in one
// transaction. A repeat failure keeps first_seen_at and bumps attempts.
func (db *DB) MarkDayFailed(ctx context.Context, key models.PropertyKey, day time.Time, runID, reason string) (*models.DeadLetterEntry, error) {
	now := time.Now().UTC()
	dayStr := models.FormatDay(day)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	d := &models.SyncDay{
		PropertyKey:  key,
		Date:         day,
		Status:       models.DayFailed,
		Error:        reason,
		RunID:        runID,
		LastSyncedAt: now,
	}
	if err := upsertDay(ctx, tx, d, false); err != nil {
		return nil, fmt.Errorf("failed to mark day failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, clearStagingSQL, key.AccountID, key.PropertyID, dayStr); err != nil {
		return nil, fmt.Errorf("failed to discard staged rows: %w", err)
	}

	var existed bool
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sync_dead_letters WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`,
		key.AccountID, key.PropertyID, dayStr).Scan(&existed); err != nil {
		return nil, fmt.Errorf("failed to check dead letter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (account_id, property_id, day, reason, first_seen_at, last_failed_at, attempts)
		VALUES (?, ?, CAST(? AS DATE), ?, ?, ?, 1)
		ON CONFLICT (account_id, property_id, day) DO UPDATE SET
			reason = excluded.reason,
			last_failed_at = excluded.last_failed_at,
			attempts = sync_dead_letters.attempts + 1`,
		key.AccountID, key.PropertyID, dayStr, reason, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert dead letter: %w", err)
	}

	entry, err := scanDeadLetter(tx.QueryRowContext(ctx, deadLetterSelect+` WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`,
		key.AccountID, key.PropertyID, dayStr))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dead letter: %w", err)
	}

	metrics.DeadLetterAdded.Inc()
	if !existed {
		metrics.DeadLetterEntries.Inc()
	}
	return entry, nil
}

const deadLetterSelect = `SELECT account_id, property_id, day, reason, first_seen_at, last_failed_at, attempts FROM sync_dead_letters`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetter(row rowScanner) (*models.DeadLetterEntry, error) {
	var e models.DeadLetterEntry
	if err := row.Scan(&e.AccountID, &e.PropertyID, &e.Date, &e.Reason, &e.FirstSeenAt, &e.LastFailedAt, &e.Attempts); err != nil {
		return nil, err
	}
	e.Date = models.Day(e.Date)
	return &e, nil
}

// ListDeadLetters returns entries oldest day first. A nil key lists every
// property.
func (db *DB) ListDeadLetters(ctx context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error) {
	query := deadLetterSelect
	var args []interface{}
	if key != nil {
		query += ` WHERE account_id = ? AND property_id = ?`
		args = append(args, key.AccountID, key.PropertyID)
	}
	query += ` ORDER BY account_id, property_id, day`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetDeadLetter returns the entry for one day, or nil if there is none.
func (db *DB) GetDeadLetter(ctx context.Context, key models.PropertyKey, day time.Time) (*models.DeadLetterEntry, error) {
	e, err := scanDeadLetter(db.conn.QueryRowContext(ctx,
		deadLetterSelect+` WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`,
		key.AccountID, key.PropertyID, models.FormatDay(day)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return e, nil
}

// ClearDeadLetters removes entries for key, or every entry when key is nil.
// SyncDay rows are left as they are.
func (db *DB) ClearDeadLetters(ctx context.Context, key *models.PropertyKey) (int64, error) {
	query := `DELETE FROM sync_dead_letters`
	var args []interface{}
	if key != nil {
		query += ` WHERE account_id = ? AND property_id = ?`
		args = append(args, key.AccountID, key.PropertyID)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear dead letters: %w", err)
	}
	n, _ := res.RowsAffected()
	metrics.DeadLetterEntries.Sub(float64(n))
	return n, nil
}

// CountDeadLetters returns the total number of entries and primes the gauge.
func (db *DB) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	metrics.DeadLetterEntries.Set(float64(n))
	return n, nil
}
