// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

/*
Package models defines the data shared by the sync engine, the store and
the operator API.

  - PropertyKey, SyncRequest: what to sync and over which range
  - SyncDay, DayStatus: the persisted per-day record
  - DeadLetterEntry: a day that exhausted its retries
  - MetricRow, QueryMetric, DayPayload: search performance data for one day
  - APIResponse, APIError: the HTTP response envelope

Dates are calendar days: midnight UTC, rendered as YYYY-MM-DD by
FormatDay and parsed by ParseDay.
*/
package models
