// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"sync"

	"github.com/tomtom215/searchsync/internal/metrics"
)

// Subscription is one subscriber's event stream.
type Subscription struct {
	id     uint64
	ch     chan Event
	b      *Broadcaster
	closed bool
}

// Events returns the stream. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes and closes the stream. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster fans events out to subscribers. Publish never blocks: each
// subscriber has a bounded queue and loses its oldest event when the queue
// is full. Per-subscriber order matches publish order.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewBroadcaster creates a broadcaster with per-subscriber queues of size
// buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[uint64]*Subscription), buffer: buffer}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, ch: make(chan Event, b.buffer), b: b}
	b.subs[s.id] = s
	metrics.EventSubscribers.Set(float64(len(b.subs)))
	return s
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s.id)
	close(s.ch)
	metrics.EventSubscribers.Set(float64(len(b.subs)))
}

// Publish delivers e to every subscriber without blocking.
func (b *Broadcaster) Publish(e Event) {
	metrics.EventsPublished.WithLabelValues(string(e.Kind())).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		b.deliver(s, e)
	}
}

// deliver is called with b.mu held for reading, so s.ch cannot be closed
// underneath it. Publish is only called from the engine goroutine; the
// only concurrent party on s.ch is the subscriber draining it.
func (b *Broadcaster) deliver(s *Subscription, e Event) {
	select {
	case s.ch <- e:
		return
	default:
	}

	select {
	case <-s.ch:
		metrics.EventsDropped.Inc()
	default:
	}

	select {
	case s.ch <- e:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
