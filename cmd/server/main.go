// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/searchsync/internal/api"
	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/database"
	"github.com/tomtom215/searchsync/internal/directory"
	"github.com/tomtom215/searchsync/internal/eventbus"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/searchapi"
	"github.com/tomtom215/searchsync/internal/supervisor"
	"github.com/tomtom215/searchsync/internal/supervisor/services"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
	ws "github.com/tomtom215/searchsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("Searchsync exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	logging.Info().
		Str("search_api", cfg.SearchAPI.BaseURL).
		Str("db_path", cfg.Database.Path).
		Int("authorized_properties", len(cfg.Directory.Authorized)).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	if n, err := db.CountDeadLetters(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Failed to count dead letters")
	} else if n > 0 {
		logging.Warn().Int64("dead_letters", n).Msg("Dead letters are waiting for retry")
	}

	snapshots, err := syncengine.OpenSnapshots(&cfg.Badger)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		if err := snapshots.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	engine, err := syncengine.NewEngine(cfg, syncengine.Dependencies{
		Client:    searchapi.NewCircuitBreakerClient(&cfg.SearchAPI),
		Store:     db,
		Directory: directory.NewStatic(cfg.Directory.Authorized),
		Snapshots: snapshots,
	})
	if err != nil {
		return fmt.Errorf("create sync engine: %w", err)
	}

	hub := ws.NewHub(engine)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewEngineService(engine))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))

	if cfg.NATS.Enabled {
		pub, err := eventbus.NewNATSPublisher(&cfg.NATS)
		if err != nil {
			return fmt.Errorf("connect NATS publisher: %w", err)
		}
		fwd := eventbus.NewForwarder(engine, pub, cfg.NATS.SubjectPrefix)
		tree.AddMessagingService(services.NewForwarderService(fwd))
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS event forwarding enabled")
	}

	handler := api.NewHandler(api.NewEngineService(engine), &cfg.Server,
		api.WithHub(hub),
		api.WithRowCounter(db),
		api.WithReadinessCheck("database", db.Ping),
	)
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFromServer(&cfg.Server)))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	err = tree.Serve(ctx)

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	return nil
}
