// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package searchapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryableError is a transient failure: rate limiting, 5xx, timeouts,
// connection errors, or an open circuit breaker.
type RetryableError struct {
	StatusCode int
	Message    string
	Cause      error

	// RetryAfter is the server-provided delay hint, zero if absent.
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError is a request the API will never accept as sent, such as a
// 400 or 404. Retrying it is pointless; the day is escalated immediately.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("search api rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}

// AuthError means the credentials were rejected. It is terminal for the
// whole run since every following request would fail the same way.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("search api authorization failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err (or anything it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsAuth reports whether err wraps an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// RetryAfter returns the server-provided retry delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// classifyStatus maps a non-2xx response to a typed error.
func classifyStatus(status int, body string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status, Message: body}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &RetryableError{
			StatusCode: status,
			Message:    fmt.Sprintf("search api returned HTTP %d", status),
			Cause:      errors.New(body),
			RetryAfter: retryAfter,
		}
	default:
		return &PermanentError{StatusCode: status, Message: body}
	}
}
