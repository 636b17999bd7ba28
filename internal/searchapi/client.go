// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package searchapi is the HTTP client for the upstream search-performance
// API. It exposes the two calls the sync engine needs and classifies every
// failure as retryable, permanent or an authorization error.
//
// Endpoints:
//
//	GET  {base}/v1/accounts/{account}/properties/{property}/days/{date}?page_token=
//	POST {base}/v1/accounts/{account}/properties/{property}/query:batch
package searchapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
)

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 4 * 1024

// DayPage is one page of the per-day aggregate.
type DayPage struct {
	Rows          []models.MetricRow `json:"rows"`
	NextPageToken string             `json:"next_page_token"`
}

type queryBatchRequest struct {
	Date     string                `json:"date"`
	Requests []models.QueryRequest `json:"requests"`
}

type queryBatchResponse struct {
	Responses []models.QueryResponse `json:"responses"`
}

// Client talks to the search API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg *config.SearchAPIConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *Client) propertyURL(key models.PropertyKey) string {
	return fmt.Sprintf("%s/v1/accounts/%s/properties/%s",
		c.baseURL, url.PathEscape(key.AccountID), url.PathEscape(key.PropertyID))
}

// FetchDayAggregate returns one page of daily totals. An empty pageToken
// requests the first page.
func (c *Client) FetchDayAggregate(ctx context.Context, key models.PropertyKey, day time.Time, pageToken string) (*DayPage, error) {
	endpoint := c.propertyURL(key) + "/days/" + models.FormatDay(day)
	if pageToken != "" {
		endpoint += "?page_token=" + url.QueryEscape(pageToken)
	}

	var page DayPage
	if err := c.do(ctx, "day_aggregate", http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchQueryBatch issues a batch of dimension sub-requests for one day.
// Responses are positional: responses[i] answers requests[i].
func (c *Client) FetchQueryBatch(ctx context.Context, key models.PropertyKey, day time.Time, requests []models.QueryRequest) ([]models.QueryResponse, error) {
	body, err := json.Marshal(queryBatchRequest{Date: models.FormatDay(day), Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query batch: %w", err)
	}

	var out queryBatchResponse
	if err := c.do(ctx, "query_batch", http.MethodPost, c.propertyURL(key)+"/query:batch", body, &out); err != nil {
		return nil, err
	}
	if len(out.Responses) != len(requests) {
		return nil, &PermanentError{
			StatusCode: http.StatusOK,
			Message:    fmt.Sprintf("batch returned %d responses for %d requests", len(out.Responses), len(requests)),
		}
	}
	return out.Responses, nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body []byte, result interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SearchAPIDuration.WithLabelValues(operation, "error").Observe(time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RetryableError{Message: operation + " request failed", Cause: err}
	}
	defer resp.Body.Close()
	metrics.SearchAPIDuration.WithLabelValues(operation, statusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)), parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// A truncated body is usually a dropped connection.
		return &RetryableError{Message: "failed to decode " + operation + " response", Cause: err}
	}
	return nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// parseRetryAfter accepts the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
