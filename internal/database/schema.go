// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package database

import (
	"context"
	"fmt"
)

// Tables:
//   - sync_days: one row per (account, property, day), never deleted
//   - search_daily_metrics: daily aggregate rows, replaced on each commit
//   - search_query_metrics: dimension breakdown rows, replaced on each commit
//   - search_query_staging: breakdown rows of the day in flight, moved into
//     search_query_metrics by the day's commit
//   - sync_dead_letters: days that exhausted retries, removed on success or clear
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sync_days (
		account_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		day DATE NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		rows_written BIGINT NOT NULL DEFAULT 0,
		batches_written BIGINT NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, property_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_days_status ON sync_days(status)`,
	`CREATE TABLE IF NOT EXISTS search_daily_metrics (
		account_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		day DATE NOT NULL,
		clicks BIGINT NOT NULL,
		impressions BIGINT NOT NULL,
		ctr DOUBLE NOT NULL,
		position DOUBLE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_metrics_day ON search_daily_metrics(account_id, property_id, day)`,
	`CREATE TABLE IF NOT EXISTS search_query_metrics (
		account_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		day DATE NOT NULL,
		dimension TEXT NOT NULL,
		dim_value TEXT NOT NULL,
		clicks BIGINT NOT NULL,
		impressions BIGINT NOT NULL,
		ctr DOUBLE NOT NULL,
		position DOUBLE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_metrics_day ON search_query_metrics(account_id, property_id, day)`,
	`CREATE TABLE IF NOT EXISTS search_query_staging (
		run_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		day DATE NOT NULL,
		dimension TEXT NOT NULL,
		dim_value TEXT NOT NULL,
		clicks BIGINT NOT NULL,
		impressions BIGINT NOT NULL,
		ctr DOUBLE NOT NULL,
		position DOUBLE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_staging_day ON search_query_staging(account_id, property_id, day)`,
	`CREATE TABLE IF NOT EXISTS sync_dead_letters (
		account_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		day DATE NOT NULL,
		reason TEXT NOT NULL,
		first_seen_at TIMESTAMP NOT NULL,
		last_failed_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (account_id, property_id, day)
	)`,
}

// createTables runs each statement separately; DuckDB does not accept
// multi-statement Exec.
func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
