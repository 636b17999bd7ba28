// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package models

// Dimension is a query breakdown supported by the search API.
type Dimension string

const (
	DimensionQuery   Dimension = "query"
	DimensionPage    Dimension = "page"
	DimensionCountry Dimension = "country"
	DimensionDevice  Dimension = "device"
)

// MetricRow holds the four performance metrics reported for any row.
type MetricRow struct {
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// DimensionRow is a MetricRow broken down by one dimension value.
type DimensionRow struct {
	Keys []string `json:"keys"`
	MetricRow
}

// QueryRequest is one sub-request within a query batch: a single page of
// rows for a single dimension.
type QueryRequest struct {
	Dimension Dimension `json:"dimension"`
	StartRow  int       `json:"start_row"`
	RowLimit  int       `json:"row_limit"`
}

// QueryResponse is the result for one QueryRequest, in the same position.
type QueryResponse struct {
	Rows []DimensionRow `json:"rows"`
}

// QueryMetric is a dimension row ready for persistence.
type QueryMetric struct {
	Dimension Dimension
	Value     string
	MetricRow
}

// DayPayload is everything fetched for one day, committed atomically.
type DayPayload struct {
	Daily   []MetricRow
	Queries []QueryMetric
	Batches int64
}

// RowCount returns the number of rows that will be written.
func (p *DayPayload) RowCount() int64 {
	return int64(len(p.Daily) + len(p.Queries))
}
