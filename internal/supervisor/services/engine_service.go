// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/searchsync/internal/logging"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
)

// EngineRunner is satisfied by *sync.Engine.
type EngineRunner interface {
	Serve(ctx context.Context) error
}

// EngineService runs the sync engine. The engine can be served only once;
// on shutdown it halts the run in flight before Serve returns, which the
// tree's shutdown timeout must allow for.
type EngineService struct {
	engine EngineRunner
	name   string
}

func NewEngineService(engine EngineRunner) *EngineService {
	return &EngineService{engine: engine, name: "sync-engine"}
}

// Serve returns ctx.Err() on shutdown. If the engine stops while ctx is
// still live it cannot be served again, so suture.ErrDoNotRestart is
// returned.
func (s *EngineService) Serve(ctx context.Context) error {
	err := s.engine.Serve(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, syncengine.ErrEngineStopped) {
		logging.Error().Msg("Sync engine stopped unexpectedly and will not be restarted")
		return suture.ErrDoNotRestart
	}
	return err
}

func (s *EngineService) String() string {
	return s.name
}
