// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/searchsync/internal/logging"
	ws "github.com/tomtom215/searchsync/internal/websocket"
)

const registerTimeout = 5 * time.Second

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts a configured origin or "*". Browsers always
// send Origin, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// WebSocket handles GET /api/v1/ws. The first message is the current
// RunProgress, followed by every engine event.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "event stream is not enabled", nil)
		return
	}

	state, err := h.svc.CurrentState(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	client.SendMessage(ws.Message{Type: ws.MessageTypeState, Data: state})
	select {
	case h.hub.Register <- client:
	case <-time.After(registerTimeout):
		logging.Warn().Msg("WebSocket hub not accepting clients")
		_ = conn.Close()
		return
	}
	client.Start()

	logging.Debug().Uint64("client_id", client.ID()).Msg("WebSocket client connected")
}
