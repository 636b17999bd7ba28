// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

/*
Package api is the operator HTTP surface of the sync engine.

Routes (all JSON, wrapped in models.APIResponse):

	POST   /api/v1/sync/runs                        start a run
	POST   /api/v1/sync/runs/{id}/pause             hold the run at the next day boundary
	POST   /api/v1/sync/runs/{id}/resume            continue a paused run
	POST   /api/v1/sync/runs/{id}/stop              cancel after the day in flight
	GET    /api/v1/sync/state                       current RunProgress
	GET    /api/v1/sync/last-run                    last finished run, 404 when none
	POST   /api/v1/sync/reset                       return a finished run to idle
	GET    /api/v1/sync/days                        SyncDay history for one property
	GET    /api/v1/sync/days/{date}/rows            stored metric row counts for one day
	GET    /api/v1/sync/dead-letters                dead letter list, optionally per property
	POST   /api/v1/sync/dead-letters/{date}/retry   re-run one dead-lettered day
	DELETE /api/v1/sync/dead-letters                clear dead letters
	GET    /api/v1/ws                               websocket event stream
	GET    /api/v1/health/live                      liveness
	GET    /api/v1/health/ready                     readiness checks
	GET    /metrics                                 Prometheus

Engine rejections map to status codes:

	ErrInvalidRequest, ErrDeadLetterNotFound  400 VALIDATION_ERROR
	ErrUnauthorized                           403 FORBIDDEN
	ErrAlreadyRunning                         409 CONFLICT
	ErrEngineStopped                          503 UNAVAILABLE

The websocket stream sends one "state" message carrying the current
RunProgress, then every engine event as {"type": kind, "data": {...}}.
Clients may send {"type":"ping"} and receive {"type":"pong"}.
*/
package api
