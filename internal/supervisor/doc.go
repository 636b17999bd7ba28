// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

/*
Package supervisor runs the long-lived services of the process under a
suture v4 tree.

	searchsync (root)
	├── data-layer
	│   └── sync-engine
	├── messaging-layer
	│   ├── websocket-hub
	│   └── event-forwarder (when NATS is enabled)
	└── api-layer
	    └── http-server

Supervisor events (restarts, backoff, timeouts) are logged through
sutureslog into the zerolog-backed slog handler from internal/logging.

The engine may only be served once, so its wrapper returns
suture.ErrDoNotRestart when it stops on its own. The hub and forwarder
re-subscribe to the engine on every restart.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewEngineService(engine))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
