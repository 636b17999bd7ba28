// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package websocket streams sync engine events to browser clients.
//
// The Hub is one engine subscriber. Every event it receives is encoded once
// as {"type": kind, "data": {...}} and fanned out to connected clients.
// A client whose buffer is full is disconnected; it can reconnect and read
// the current RunProgress from the "state" message sent on connect.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types that are not engine events.
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeState = "state"
)

// Message is a control message. Engine events use the same shape with the
// event kind as Type.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// EventSource is the engine's subscription API.
type EventSource interface {
	Subscribe() *syncengine.Subscription
}

// Hub maintains the set of active clients and broadcasts engine events to
// them.
type Hub struct {
	source     EventSource
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub reading events from source.
func NewHub(source EventSource) *Hub {
	return &Hub{
		source:     source,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext subscribes to the engine and serves clients until ctx is
// cancelled. All clients are closed on return, so a supervisor restart
// starts from a clean slate.
//
// Client lifecycle events take priority over broadcasts, so a client that
// registered before an event was published receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	sub := h.source.Subscribe()
	defer sub.Close()
	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case ev, ok := <-events:
			if !ok {
				// Subscription closed underneath us; let the supervisor restart.
				h.closeAllClients()
				return nil
			}
			h.broadcastEvent(ev)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("Websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		h.drop(client)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("Websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	n := h.GetClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", n).
		Msg("Websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

func (h *Hub) broadcastEvent(ev syncengine.Event) {
	data, err := syncengine.EncodeEvent(ev)
	if err != nil {
		logging.Warn().Err(err).Str("kind", string(ev.Kind())).Msg("Failed to encode event for websocket clients")
		return
	}
	h.broadcast(data)
}

// broadcast sends data to all clients in ID order. Clients that cannot
// keep up are dropped.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedClients()
	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.drop(client)
		logging.Warn().Uint64("client_id", client.id).Msg("Dropping slow websocket client")
	}
	if len(slow) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

// drop must be called with mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.close()
}

// sortedClients must be called with mu held.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.sortedClients() {
		h.drop(client)
	}
	metrics.WSConnections.Set(0)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
