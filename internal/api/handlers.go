// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/models"
	ws "github.com/tomtom215/searchsync/internal/websocket"
)

// Handler serves the operator API.
type Handler struct {
	svc    SyncService
	rows   RowCounter
	hub    *ws.Hub
	checks []ReadinessCheck
	cfg    *config.ServerConfig

	startTime time.Time
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithRowCounter enables GET /api/v1/sync/days/{date}/rows.
func WithRowCounter(rc RowCounter) HandlerOption {
	return func(h *Handler) { h.rows = rc }
}

// WithHub enables the websocket stream.
func WithHub(hub *ws.Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

// WithReadinessCheck adds a probe to /health/ready.
func WithReadinessCheck(name string, check func(ctx context.Context) error) HandlerOption {
	return func(h *Handler) { h.checks = append(h.checks, ReadinessCheck{Name: name, Check: check}) }
}

// NewHandler creates the API handlers. cfg may be nil in tests.
func NewHandler(svc SyncService, cfg *config.ServerConfig, opts ...HandlerOption) *Handler {
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	h := &Handler{svc: svc, cfg: cfg, startTime: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StartRunRequest is the body of POST /api/v1/sync/runs.
type StartRunRequest struct {
	AccountID   string `json:"account_id" validate:"required,max=128"`
	PropertyID  string `json:"property_id" validate:"required,max=512"`
	Mode        string `json:"mode" validate:"required,oneof=full_history last_n_days explicit_range"`
	Days        int    `json:"days,omitempty" validate:"omitempty,min=1,max=1000"`
	From        string `json:"from,omitempty" validate:"omitempty,calendar_day"`
	To          string `json:"to,omitempty" validate:"omitempty,calendar_day"`
	Force       bool   `json:"force"`
	StopOnEmpty bool   `json:"stop_on_empty"`
}

func (r *StartRunRequest) toSyncRequest() models.SyncRequest {
	req := models.SyncRequest{
		PropertyKey: models.PropertyKey{AccountID: r.AccountID, PropertyID: r.PropertyID},
		Mode:        models.RangeMode(r.Mode),
		Days:        r.Days,
		Force:       r.Force,
		StopOnEmpty: r.StopOnEmpty,
	}
	// Dates were checked by calendar_day.
	if r.From != "" {
		req.From, _ = models.ParseDay(r.From)
	}
	if r.To != "" {
		req.To, _ = models.ParseDay(r.To)
	}
	return req
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// DaysQuery holds the query parameters of GET /api/v1/sync/days.
type DaysQuery struct {
	AccountID  string `json:"account_id" validate:"required,max=128"`
	PropertyID string `json:"property_id" validate:"required,max=512"`
	From       string `json:"from" validate:"omitempty,calendar_day"`
	To         string `json:"to" validate:"omitempty,calendar_day"`
}

// PropertyFilter optionally narrows dead letter operations to one property.
type PropertyFilter struct {
	AccountID  string `json:"account_id" validate:"required_with=PropertyID,max=128"`
	PropertyID string `json:"property_id" validate:"required_with=AccountID,max=512"`
}

func (f *PropertyFilter) key() *models.PropertyKey {
	if f.AccountID == "" {
		return nil
	}
	return &models.PropertyKey{AccountID: f.AccountID, PropertyID: f.PropertyID}
}

// RetryRequest is the body of POST /api/v1/sync/dead-letters/{date}/retry.
type RetryRequest struct {
	AccountID  string `json:"account_id" validate:"required,max=128"`
	PropertyID string `json:"property_id" validate:"required,max=512"`
	Date       string `json:"date" validate:"required,calendar_day"`
}

// ClearResponse reports how many dead letters were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// DayRowsQuery identifies one day of one property.
type DayRowsQuery struct {
	AccountID  string `json:"account_id" validate:"required,max=128"`
	PropertyID string `json:"property_id" validate:"required,max=512"`
	Date       string `json:"date" validate:"required,calendar_day"`
}

// RowCountsResponse is the stored metric row count for one day.
type RowCountsResponse struct {
	Property  string `json:"property"`
	Date      string `json:"date"`
	DailyRows int64  `json:"daily_rows"`
	QueryRows int64  `json:"query_rows"`
}

// StartRun handles POST /api/v1/sync/runs.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body StartRunRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if apiErr := validateRequest(&body); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	runID, err := h.svc.Start(r.Context(), body.toSyncRequest())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("run_id", runID).
		Str("property", sanitizeLogValue(body.AccountID+"/"+body.PropertyID)).
		Str("mode", body.Mode).
		Msg("Sync run accepted")
	respondSuccess(w, http.StatusAccepted, StartRunResponse{RunID: runID}, start)
}

func (h *Handler) control(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		runID := chi.URLParam(r, "id")
		if err := op(r.Context(), runID); err != nil {
			respondEngineError(w, err)
			return
		}
		state, err := h.svc.CurrentState(r.Context())
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respondSuccess(w, http.StatusOK, state, start)
	}
}

// PauseRun handles POST /api/v1/sync/runs/{id}/pause.
func (h *Handler) PauseRun(w http.ResponseWriter, r *http.Request) {
	h.control(h.svc.Pause)(w, r)
}

// ResumeRun handles POST /api/v1/sync/runs/{id}/resume.
func (h *Handler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	h.control(h.svc.Resume)(w, r)
}

// StopRun handles POST /api/v1/sync/runs/{id}/stop.
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	h.control(h.svc.Stop)(w, r)
}

// State handles GET /api/v1/sync/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	state, err := h.svc.CurrentState(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, state, start)
}

// LastRun handles GET /api/v1/sync/last-run.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	last, err := h.svc.LastRun(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if last == nil {
		respondError(w, http.StatusNotFound, CodeNotFound, "no run has finished yet", nil)
		return
	}
	respondSuccess(w, http.StatusOK, last, start)
}

// Reset handles POST /api/v1/sync/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.svc.Reset(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	state, err := h.svc.CurrentState(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, state, start)
}

// Days handles GET /api/v1/sync/days.
func (h *Handler) Days(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	query := DaysQuery{
		AccountID:  q.Get("account_id"),
		PropertyID: q.Get("property_id"),
		From:       q.Get("from"),
		To:         q.Get("to"),
	}
	if apiErr := validateRequest(&query); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	var from, to time.Time
	if query.From != "" {
		from, _ = models.ParseDay(query.From)
	}
	if query.To != "" {
		to, _ = models.ParseDay(query.To)
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		respondError(w, http.StatusBadRequest, CodeValidation, "from must not be after to", nil)
		return
	}

	key := models.PropertyKey{AccountID: query.AccountID, PropertyID: query.PropertyID}
	days, err := h.svc.History(r.Context(), key, from, to)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if days == nil {
		days = []models.SyncDay{}
	}
	respondSuccess(w, http.StatusOK, days, start)
}

// DayRows handles GET /api/v1/sync/days/{date}/rows.
func (h *Handler) DayRows(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.rows == nil {
		respondError(w, http.StatusNotFound, CodeNotFound, "row counts are not available", nil)
		return
	}
	q := r.URL.Query()
	query := DayRowsQuery{
		AccountID:  q.Get("account_id"),
		PropertyID: q.Get("property_id"),
		Date:       chi.URLParam(r, "date"),
	}
	if apiErr := validateRequest(&query); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	day, _ := models.ParseDay(query.Date)
	key := models.PropertyKey{AccountID: query.AccountID, PropertyID: query.PropertyID}

	daily, queries, err := h.rows.RowCounts(r.Context(), key, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to count rows", err)
		return
	}
	respondSuccess(w, http.StatusOK, RowCountsResponse{
		Property:  key.String(),
		Date:      query.Date,
		DailyRows: daily,
		QueryRows: queries,
	}, start)
}

// ListDeadLetters handles GET /api/v1/sync/dead-letters.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	filter := PropertyFilter{AccountID: q.Get("account_id"), PropertyID: q.Get("property_id")}
	if apiErr := validateRequest(&filter); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	entries, err := h.svc.ListDeadLetters(r.Context(), filter.key())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []models.DeadLetterEntry{}
	}
	respondSuccess(w, http.StatusOK, entries, start)
}

// RetryDeadLetter handles POST /api/v1/sync/dead-letters/{date}/retry.
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body RetryRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Date = chi.URLParam(r, "date")
	if apiErr := validateRequest(&body); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}
	day, _ := models.ParseDay(body.Date)

	runID, err := h.svc.RetryDeadLetter(r.Context(), models.PropertyKey{AccountID: body.AccountID, PropertyID: body.PropertyID}, day)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondSuccess(w, http.StatusAccepted, StartRunResponse{RunID: runID}, start)
}

// ClearDeadLetters handles DELETE /api/v1/sync/dead-letters.
func (h *Handler) ClearDeadLetters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	filter := PropertyFilter{AccountID: q.Get("account_id"), PropertyID: q.Get("property_id")}
	if apiErr := validateRequest(&filter); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	n, err := h.svc.ClearDeadLetters(r.Context(), filter.key())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	logging.Ctx(r.Context()).Info().Int64("removed", n).Msg("Dead letters cleared")
	respondSuccess(w, http.StatusOK, ClearResponse{Removed: n}, start)
}

// healthResponse is the body of the health endpoints.
type healthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	RunStatus     string            `json:"run_status,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Live handles GET /api/v1/health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// Ready handles GET /api/v1/health/ready. It is degraded when the engine
// does not answer or any readiness check fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Checks:        make(map[string]string, len(h.checks)+1),
	}

	if state, err := h.svc.CurrentState(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checks["engine"] = err.Error()
	} else {
		resp.Checks["engine"] = "ok"
		resp.RunStatus = string(state.Status)
	}
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[c.Name] = err.Error()
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, resp, start)
}
