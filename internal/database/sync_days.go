// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
)

// upsertDayPrefix inserts a SyncDay or, on conflict, updates its status.
const upsertDayPrefix = `
	INSERT INTO sync_days (account_id, property_id, day, status, error, rows_written, batches_written, run_id, last_synced_at)
	VALUES (?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, property_id, day) DO UPDATE SET
		status = excluded.status,
		error = excluded.error,
		run_id = excluded.run_id,
		last_synced_at = excluded.last_synced_at`

// upsertDayCountsSQL also overwrites the row counters. Status-only updates
// (running, halted) keep the last known counts.
const upsertDayCountsSQL = upsertDayPrefix + `,
		rows_written = excluded.rows_written,
		batches_written = excluded.batches_written`

// clearStagingSQL drops the staged rows of one day, whichever run wrote them.
const clearStagingSQL = `DELETE FROM search_query_staging WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertDay(ctx context.Context, ex execer, d *models.SyncDay, resetCounts bool) error {
	query := upsertDayPrefix
	if resetCounts {
		query = upsertDayCountsSQL
	}
	_, err := ex.ExecContext(ctx, query,
		d.AccountID, d.PropertyID, models.FormatDay(d.Date), string(d.Status), d.Error,
		d.RowsWritten, d.BatchesWritten, d.RunID, d.LastSyncedAt.UTC())
	return err
}

// LoadHistory returns SyncDay rows for key with from <= day <= to, oldest
// first. Zero from or to leaves that side unbounded.
func (db *DB) LoadHistory(ctx context.Context, key models.PropertyKey, from, to time.Time) ([]models.SyncDay, error) {
	query := `SELECT account_id, property_id, day, status, error, rows_written, batches_written, run_id, last_synced_at
		FROM sync_days WHERE account_id = ? AND property_id = ?`
	args := []interface{}{key.AccountID, key.PropertyID}
	if !from.IsZero() {
		query += ` AND day >= CAST(? AS DATE)`
		args = append(args, models.FormatDay(from))
	}
	if !to.IsZero() {
		query += ` AND day <= CAST(? AS DATE)`
		args = append(args, models.FormatDay(to))
	}
	query += ` ORDER BY day`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.SyncDay
	for rows.Next() {
		var d models.SyncDay
		var status string
		if err := rows.Scan(&d.AccountID, &d.PropertyID, &d.Date, &status, &d.Error,
			&d.RowsWritten, &d.BatchesWritten, &d.RunID, &d.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync day: %w", err)
		}
		d.Status = models.DayStatus(status)
		d.Date = models.Day(d.Date)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync history: %w", err)
	}
	return out, nil
}

// GetDay returns one SyncDay or nil when the day was never attempted.
func (db *DB) GetDay(ctx context.Context, key models.PropertyKey, day time.Time) (*models.SyncDay, error) {
	days, err := db.LoadHistory(ctx, key, day, day)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}
	return &days[0], nil
}

// MarkDayStatus records a status without touching metric rows. Used for
// running, skipped, failed and halted transitions. Any status other than
// running also discards rows staged for the day.
func (db *DB) MarkDayStatus(ctx context.Context, key models.PropertyKey, day time.Time, runID string, status models.DayStatus, errMsg string) error {
	d := &models.SyncDay{
		PropertyKey:  key,
		Date:         day,
		Status:       status,
		Error:        errMsg,
		RunID:        runID,
		LastSyncedAt: time.Now(),
	}
	// A skipped day wrote nothing in this attempt.
	if err := upsertDay(ctx, db.conn, d, status == models.DaySkipped); err != nil {
		return fmt.Errorf("failed to mark %s %s as %s: %w", key, models.FormatDay(day), status, err)
	}
	if status != models.DayRunning {
		if _, err := db.conn.ExecContext(ctx, clearStagingSQL, key.AccountID, key.PropertyID, models.FormatDay(day)); err != nil {
			return fmt.Errorf("failed to discard staged rows: %w", err)
		}
	}
	return nil
}

// StageQueries appends one batch of dimension rows for the day runID is
// syncing. Staged rows are invisible to readers until CommitDay.
func (db *DB) StageQueries(ctx context.Context, key models.PropertyKey, day time.Time, runID string, rows []models.QueryMetric) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_query_staging (run_id, account_id, property_id, day, dimension, dim_value, clicks, impressions, ctr, position)
		VALUES (?, ?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare staging insert: %w", err)
	}
	defer closeQuietly(stmt)

	dayStr := models.FormatDay(day)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, key.AccountID, key.PropertyID, dayStr,
			string(r.Dimension), r.Value, r.Clicks, r.Impressions, r.CTR, r.Position); err != nil {
			return fmt.Errorf("failed to stage query metrics: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staged rows: %w", err)
	}
	return nil
}

// CommitDay atomically replaces the day's metric rows with payload plus
// the rows runID staged for the day, marks the SyncDay complete and removes
// any dead letter for it. Re-committing the same payload leaves the store
// unchanged apart from timestamps.
func (db *DB) CommitDay(ctx context.Context, key models.PropertyKey, day time.Time, runID string, payload *models.DayPayload) error {
	start := time.Now()
	defer func() { metrics.WriterCommitDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	dayStr := models.FormatDay(day)
	for _, table := range []string{"search_daily_metrics", "search_query_metrics"} {
		//nolint:gosec // table names are constants
		q := "DELETE FROM " + table + " WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)"
		if _, err := tx.ExecContext(ctx, q, key.AccountID, key.PropertyID, dayStr); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, r := range payload.Daily {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_daily_metrics (account_id, property_id, day, clicks, impressions, ctr, position)
			 VALUES (?, ?, CAST(? AS DATE), ?, ?, ?, ?)`,
			key.AccountID, key.PropertyID, dayStr, r.Clicks, r.Impressions, r.CTR, r.Position); err != nil {
			return fmt.Errorf("failed to insert daily metrics: %w", err)
		}
	}

	for _, r := range payload.Queries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_query_metrics (account_id, property_id, day, dimension, dim_value, clicks, impressions, ctr, position)
			 VALUES (?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?)`,
			key.AccountID, key.PropertyID, dayStr, string(r.Dimension), r.Value, r.Clicks, r.Impressions, r.CTR, r.Position); err != nil {
			return fmt.Errorf("failed to insert query metrics: %w", err)
		}
	}

	moved, err := tx.ExecContext(ctx, `
		INSERT INTO search_query_metrics (account_id, property_id, day, dimension, dim_value, clicks, impressions, ctr, position)
		SELECT account_id, property_id, day, dimension, dim_value, clicks, impressions, ctr, position
		FROM search_query_staging
		WHERE run_id = ? AND account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`,
		runID, key.AccountID, key.PropertyID, dayStr)
	if err != nil {
		return fmt.Errorf("failed to move staged query metrics: %w", err)
	}
	staged, _ := moved.RowsAffected()
	if _, err := tx.ExecContext(ctx, clearStagingSQL, key.AccountID, key.PropertyID, dayStr); err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}

	d := &models.SyncDay{
		PropertyKey:    key,
		Date:           day,
		Status:         models.DayComplete,
		RowsWritten:    payload.RowCount() + staged,
		BatchesWritten: payload.Batches,
		RunID:          runID,
		LastSyncedAt:   time.Now(),
	}
	if err := upsertDay(ctx, tx, d, true); err != nil {
		return fmt.Errorf("failed to mark day complete: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sync_dead_letters WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)`,
		key.AccountID, key.PropertyID, dayStr)
	if err != nil {
		return fmt.Errorf("failed to clear dead letter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit day %s: %w", dayStr, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.DeadLetterEntries.Sub(float64(n))
	}
	return nil
}

// RowCounts returns the persisted (daily, query) row counts for one day.
func (db *DB) RowCounts(ctx context.Context, key models.PropertyKey, day time.Time) (daily, queries int64, err error) {
	dayStr := models.FormatDay(day)
	err = db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM search_daily_metrics WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE)),
			(SELECT COUNT(*) FROM search_query_metrics WHERE account_id = ? AND property_id = ? AND day = CAST(? AS DATE))`,
		key.AccountID, key.PropertyID, dayStr, key.AccountID, key.PropertyID, dayStr).Scan(&daily, &queries)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return daily, queries, nil
}

// RecoverInterrupted moves days left running by a previous process to
// halted so the planner picks them up again.
func (db *DB) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sync_days SET status = ?, error = ? WHERE status = ?`,
		string(models.DayHalted), "interrupted by restart", string(models.DayRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted days: %w", err)
	}
	n, _ := res.RowsAffected()

	// No run is active yet, so every staged row is left over.
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM search_query_staging`); err != nil {
		return n, fmt.Errorf("failed to clear staged rows: %w", err)
	}
	return n, nil
}
