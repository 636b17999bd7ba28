// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package api

// Error codes returned in APIError.Code.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeForbidden   = "FORBIDDEN"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
	CodeBadJSON     = "INVALID_JSON"
)
