// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a run is running, paused
	// or cancelling.
	ErrAlreadyRunning = errors.New("a sync is already in progress")

	// ErrInvalidRequest wraps every SyncRequest validation failure.
	ErrInvalidRequest = errors.New("invalid sync request")

	// ErrUnauthorized is returned when the directory does not allow the
	// property to be synced.
	ErrUnauthorized = errors.New("property is not authorized for sync")

	// ErrDeadLetterNotFound is returned when retrying a date that has no
	// dead letter.
	ErrDeadLetterNotFound = errors.New("no dead letter for date")

	// ErrEngineStopped is returned by calls made after Serve has returned.
	ErrEngineStopped = errors.New("sync engine stopped")

	// ErrWriterStopped is returned for writes submitted after the writer
	// shut down.
	ErrWriterStopped = errors.New("sync writer stopped")
)
