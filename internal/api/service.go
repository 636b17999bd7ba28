// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

import (
	"context"
	"time"

	"github.com/tomtom215/searchsync/internal/models"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
)

// SyncService is the engine surface the handlers drive.
type SyncService interface {
	Start(ctx context.Context, req models.SyncRequest) (string, error)
	Pause(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) error
	Stop(ctx context.Context, runID string) error
	CurrentState(ctx context.Context) (syncengine.RunProgress, error)
	LastRun(ctx context.Context) (*syncengine.RunProgress, error)
	Reset(ctx context.Context) error
	History(ctx context.Context, key models.PropertyKey, from, to time.Time) ([]models.SyncDay, error)

	ListDeadLetters(ctx context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error)
	RetryDeadLetter(ctx context.Context, key models.PropertyKey, date time.Time) (string, error)
	ClearDeadLetters(ctx context.Context, key *models.PropertyKey) (int64, error)
}

// RowCounter reports how many metric rows are stored for one day.
type RowCounter interface {
	RowCounts(ctx context.Context, key models.PropertyKey, day time.Time) (daily, queries int64, err error)
}

// ReadinessCheck is one named dependency probe for /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// EngineService adapts *syncengine.Engine to SyncService.
type EngineService struct {
	*syncengine.Engine
}

// NewEngineService wraps e.
func NewEngineService(e *syncengine.Engine) *EngineService {
	return &EngineService{Engine: e}
}

func (s *EngineService) ListDeadLetters(ctx context.Context, key *models.PropertyKey) ([]models.DeadLetterEntry, error) {
	return s.DeadLetters().List(ctx, key)
}

func (s *EngineService) RetryDeadLetter(ctx context.Context, key models.PropertyKey, date time.Time) (string, error) {
	return s.DeadLetters().Retry(ctx, key, date)
}

func (s *EngineService) ClearDeadLetters(ctx context.Context, key *models.PropertyKey) (int64, error) {
	return s.DeadLetters().Clear(ctx, key)
}
