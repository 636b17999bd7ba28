// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package directory answers whether the operator may sync a property.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/tomtom215/searchsync/internal/models"
)

// Static is a fixed allow-list of properties loaded from configuration.
type Static struct {
	mu         sync.RWMutex
	authorized map[models.PropertyKey]struct{}
}

// NewStatic parses "account_id/property_id" entries. Malformed entries are
// ignored; config validation rejects them before this point.
func NewStatic(entries []string) *Static {
	s := &Static{authorized: make(map[models.PropertyKey]struct{}, len(entries))}
	for _, e := range entries {
		account, property, ok := strings.Cut(e, "/")
		if !ok || account == "" || property == "" {
			continue
		}
		s.authorized[models.PropertyKey{AccountID: account, PropertyID: property}] = struct{}{}
	}
	return s
}

// Authorize implements the engine's Directory interface.
func (s *Static) Authorize(_ context.Context, key models.PropertyKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authorized[key]
	return ok, nil
}

// Grant adds a property at runtime.
func (s *Static) Grant(key models.PropertyKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[key] = struct{}{}
}

// Properties returns the authorized keys in no particular order.
func (s *Static) Properties() []models.PropertyKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PropertyKey, 0, len(s.authorized))
	for k := range s.authorized {
		out = append(out, k)
	}
	return out
}
