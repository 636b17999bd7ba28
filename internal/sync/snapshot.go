// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/searchsync/internal/config"
)

var lastRunKey = []byte("sync:last_run")

// BadgerSnapshots persists the last finished RunProgress in BadgerDB.
type BadgerSnapshots struct {
	db *badger.DB
}

// OpenSnapshots opens the snapshot store at cfg.Path. An empty path keeps
// the store in memory.
func OpenSnapshots(cfg *config.BadgerConfig) (*BadgerSnapshots, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &BadgerSnapshots{db: db}, nil
}

// Save replaces the stored snapshot.
func (s *BadgerSnapshots) Save(_ context.Context, p *RunProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal run snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lastRunKey, data)
	})
}

// Load returns the stored snapshot, or nil if none was saved.
func (s *BadgerSnapshots) Load(_ context.Context) (*RunProgress, error) {
	var p *RunProgress
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastRunKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get run snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			p = &RunProgress{}
			return json.Unmarshal(val, p)
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Clear deletes the stored snapshot.
func (s *BadgerSnapshots) Clear() error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(lastRunKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerSnapshots) Close() error {
	return s.db.Close()
}
