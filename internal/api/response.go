// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/models"
	syncengine "github.com/tomtom215/searchsync/internal/sync"
	"github.com/tomtom215/searchsync/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// sanitizeLogValue escapes control characters so client input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes response with an ETag. Sync state changes constantly,
// so nothing is cacheable.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("ETag", generateETag(data))

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// generateETag is an FNV-1a hash of data.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}, start time.Time) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}
	respondAPIError(w, status, &models.APIError{Code: code, Message: message})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *models.APIError) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    apiErr,
	})
}

// respondEngineError maps an engine error onto the API error codes.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncengine.ErrInvalidRequest), errors.Is(err, syncengine.ErrDeadLetterNotFound):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, syncengine.ErrUnauthorized):
		respondError(w, http.StatusForbidden, CodeForbidden, err.Error(), nil)
	case errors.Is(err, syncengine.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, syncengine.ErrEngineStopped), errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "sync engine unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}

// validateRequest runs the shared validator over v.
func validateRequest(v interface{}) *models.APIError {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return nil
	}
	apiErr := verr.ToAPIError()
	return &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, CodeBadJSON, "request body is not valid JSON", nil)
		return false
	}
	return true
}
