// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/searchsync/internal/middleware"
)

// Router binds the handlers to their routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. mw may be nil for defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi builds the route tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	// Health endpoints are exempt from rate limiting.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.Live)
		r.Get("/ready", router.handler.Ready)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Get("/ws", router.handler.WebSocket)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/runs", router.handler.StartRun)
			r.Post("/runs/{id}/pause", router.handler.PauseRun)
			r.Post("/runs/{id}/resume", router.handler.ResumeRun)
			r.Post("/runs/{id}/stop", router.handler.StopRun)

			r.Get("/state", router.handler.State)
			r.Get("/last-run", router.handler.LastRun)
			r.Post("/reset", router.handler.Reset)

			r.Get("/days", router.handler.Days)
			r.Get("/days/{date}/rows", router.handler.DayRows)

			r.Get("/dead-letters", router.handler.ListDeadLetters)
			r.Post("/dead-letters/{date}/retry", router.handler.RetryDeadLetter)
			r.Delete("/dead-letters", router.handler.ClearDeadLetters)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}
