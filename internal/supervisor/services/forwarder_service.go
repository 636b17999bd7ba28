// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package services

import (
	"context"
)

// EventForwarder is satisfied by *eventbus.Forwarder.
type EventForwarder interface {
	Serve(ctx context.Context) error
	Close() error
}

// ForwarderService runs the NATS event forwarder and closes its publisher
// once the supervisor stops it for good.
type ForwarderService struct {
	forwarder EventForwarder
	name      string
}

func NewForwarderService(forwarder EventForwarder) *ForwarderService {
	return &ForwarderService{forwarder: forwarder, name: "event-forwarder"}
}

// Serve forwards events until ctx is cancelled. A subscription dropped for
// falling behind returns nil and suture restarts the service, which
// re-subscribes.
func (s *ForwarderService) Serve(ctx context.Context) error {
	err := s.forwarder.Serve(ctx)
	if ctx.Err() != nil {
		if cerr := s.forwarder.Close(); cerr != nil {
			return cerr
		}
		return ctx.Err()
	}
	return err
}

func (s *ForwarderService) String() string {
	return s.name
}
