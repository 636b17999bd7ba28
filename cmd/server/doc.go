// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

/*
Package main is the entry point for the Searchsync server.

Searchsync mirrors a search-performance analytics API into a local DuckDB
database one calendar day at a time. Days already complete are skipped,
failed days are dead-lettered for retry, and progress is streamed to
operators over a websocket and, optionally, NATS.

# Application Architecture

	searchsync (root)
	├── data-layer
	│   └── sync-engine (planner, dispatcher, backpressure, writer)
	├── messaging-layer
	│   ├── websocket-hub
	│   └── event-forwarder (when NATS is enabled)
	└── api-layer
	    └── http-server

Initialization order:

 1. Configuration: koanf defaults, then config.yaml, then environment
 2. Logging: zerolog, also backing slog for suture and watermill
 3. DuckDB store and Badger last-run snapshot store
 4. Search API client behind a circuit breaker and rate limiter
 5. Sync engine, websocket hub, optional NATS forwarder
 6. Chi router and HTTP server under the supervisor tree

# Configuration

	SEARCH_API_URL=https://search.example.com
	SEARCH_API_TOKEN=...
	AUTHORIZED_PROPERTIES=acme/sc-domain:acme.com,acme/https://shop.acme.com/
	DUCKDB_PATH=/data/searchsync.duckdb
	BADGER_PATH=/data/snapshots
	HTTP_PORT=8090
	NATS_ENABLED=true NATS_URL=nats://localhost:4222

# Signal Handling

SIGINT and SIGTERM cancel the tree. The HTTP server drains, the engine
halts the day in flight at its next batch boundary and records the run
cancelled, then the stores are closed.
*/
package main
