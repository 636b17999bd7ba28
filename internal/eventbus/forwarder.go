// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package eventbus forwards sync engine events to a Watermill publisher.
//
// Each event is published as its {"type","data"} JSON envelope on the topic
// "<prefix>.<kind>", for example "searchsync.sync.step_completed". The
// metadata carries run_id, seq and kind so consumers can filter without
// decoding the payload. Forwarding is best effort: the forwarder is just
// another engine subscriber, and a publish failure is logged and counted
// without affecting the run.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
)

const breakerName = "event-forwarder"

// DefaultPrefix is used when no subject prefix is configured.
const DefaultPrefix = "searchsync.sync"

// EventSource is the engine's subscription API.
type EventSource interface {
	Subscribe() *syncengine.Subscription
}

// Topic returns the topic an event kind is published on.
func Topic(prefix string, kind syncengine.EventKind) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + string(kind)
}

// Forwarder publishes every engine event it receives.
type Forwarder struct {
	source EventSource
	pub    message.Publisher
	prefix string
	cb     *gobreaker.CircuitBreaker[struct{}]

	mu     sync.Mutex
	closed bool
}

// NewForwarder creates a forwarder. It takes ownership of pub and closes
// it in Close.
func NewForwarder(source EventSource, pub message.Publisher, prefix string) *Forwarder {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &Forwarder{source: source, pub: pub, prefix: prefix, cb: cb}
}

// Serve forwards events until ctx is cancelled.
func (f *Forwarder) Serve(ctx context.Context) error {
	sub := f.source.Subscribe()
	defer sub.Close()

	logging.Info().Str("prefix", f.prefix).Msg("Event forwarder started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Event forwarder stopped")
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := f.Forward(ev); err != nil {
				metrics.EventForwardErrors.Inc()
				logging.Warn().Err(err).Str("kind", string(ev.Kind())).Uint64("seq", ev.Header().Seq).Msg("Failed to forward event")
			}
		}
	}
}

// Forward publishes a single event.
func (f *Forwarder) Forward(ev syncengine.Event) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errors.New("event forwarder is closed")
	}

	data, err := syncengine.EncodeEvent(ev)
	if err != nil {
		return err
	}

	h := ev.Header()
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("run_id", h.RunID)
	msg.Metadata.Set("seq", strconv.FormatUint(h.Seq, 10))
	msg.Metadata.Set("kind", string(ev.Kind()))

	topic := Topic(f.prefix, ev.Kind())
	_, err = f.cb.Execute(func() (struct{}, error) {
		return struct{}{}, f.pub.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.pub.Close()
}
