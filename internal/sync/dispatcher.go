// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/searchsync/internal/config"
	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
	"github.com/tomtom215/searchsync/internal/models"
	"github.com/tomtom215/searchsync/internal/searchapi"
)

// DayOutcome is what the dispatcher reports for one day.
type DayOutcome struct {
	Date       time.Time
	Status     models.DayStatus
	Rows       int64
	Batches    int64
	Duration   time.Duration
	Counters   Counters
	Err        error
	DeadLetter *models.DeadLetterEntry

	// Empty is set when the day fetch returned no rows.
	Empty bool

	// StoreErr is set when the day's final status could not be written.
	StoreErr error
}

// AuthFailure reports whether the outcome ends the run.
func (o DayOutcome) AuthFailure() bool {
	return searchapi.IsAuth(o.Err)
}

func (o DayOutcome) result() DayResult {
	r := DayResult{
		Date:       o.Date,
		Status:     o.Status,
		Rows:       o.Rows,
		Batches:    o.Batches,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// pageRequest is one page of one dimension.
type pageRequest struct {
	models.QueryRequest
	page int
}

type batchResult struct {
	reqs []pageRequest
	resp []models.QueryResponse
	err  error
}

// dispatcher fetches and commits a single day.
type dispatcher struct {
	cfg    *config.SyncConfig
	dims   []models.Dimension
	client SearchClient
	store  Store
	writer *Writer
	bp     *Controller
	retry  *RetryPolicy
}

func newDispatcher(cfg *config.SyncConfig, client SearchClient, store Store, writer *Writer, bp *Controller, retry *RetryPolicy) *dispatcher {
	dims := make([]models.Dimension, 0, len(cfg.Dimensions))
	for _, d := range cfg.Dimensions {
		dims = append(dims, models.Dimension(d))
	}
	return &dispatcher{cfg: cfg, dims: dims, client: client, store: store, writer: writer, bp: bp, retry: retry}
}

// syncDay runs one day to an outcome. The day's SyncDay ends in complete,
// skipped, failed or halted; only a store that rejects every write can
// leave it running until the next restart recovers it.
func (d *dispatcher) syncDay(ctx context.Context, runID string, key models.PropertyKey, day time.Time) DayOutcome {
	start := time.Now()
	out := DayOutcome{Date: day}
	log := logging.Ctx(ctx).With().Str("property", key.String()).Str("day", models.FormatDay(day)).Logger()

	// Writes outlive cancellation so an interrupted day can still be
	// recorded as halted.
	wctx := context.WithoutCancel(ctx)

	err := d.writer.Do(wctx, "mark_running", func(c context.Context) error {
		return d.store.MarkDayStatus(c, key, day, runID, models.DayRunning, "")
	})
	if err != nil {
		out.Duration = time.Since(start)
		return d.escalate(ctx, wctx, runID, key, out, fmt.Errorf("failed to mark day running: %w", err))
	}

	var apiCalls atomic.Int64
	payload, counters, staged, err := d.fetchDay(ctx, runID, key, day, &apiCalls)
	out.Counters = counters
	out.Counters.APICalls = apiCalls.Load()

	if err == nil && len(payload.Daily) == 0 {
		out.Empty = true
		out.Status = models.DaySkipped
		out.Duration = time.Since(start)
		if err := d.writer.Do(wctx, "mark_skipped", func(c context.Context) error {
			return d.store.MarkDayStatus(c, key, day, runID, models.DaySkipped, "")
		}); err != nil {
			return d.escalate(ctx, wctx, runID, key, out, fmt.Errorf("failed to mark day skipped: %w", err))
		}
		metrics.RecordDay(string(models.DaySkipped), 0)
		log.Info().Msg("Day returned no data, skipped")
		return out
	}

	if err == nil {
		d.bp.SetStatus(PipelineFinalizing)
		err = d.writer.Do(wctx, "commit_day", func(c context.Context) error {
			return d.store.CommitDay(c, key, day, runID, payload)
		})
	}
	out.Duration = time.Since(start)
	if err != nil {
		return d.escalate(ctx, wctx, runID, key, out, err)
	}

	out.Status = models.DayComplete
	out.Rows = payload.RowCount() + staged
	out.Batches = payload.Batches
	out.Counters.Rows = out.Rows
	metrics.RecordDay(string(models.DayComplete), out.Rows)
	log.Info().
		Int64("rows", out.Rows).
		Int64("batches", out.Batches).
		Dur("duration", out.Duration).
		Msg("Day committed")
	return out
}

// escalate records a day that did not finish. Cancellation and
// authorization failures halt the day; anything else fails it and writes
// a dead letter. When the dead letter cannot be written the day is still
// marked failed; when that fails too the day is halted and the outcome
// carries StoreErr.
func (d *dispatcher) escalate(ctx, wctx context.Context, runID string, key models.PropertyKey, out DayOutcome, cause error) DayOutcome {
	out.Err = cause
	log := logging.Ctx(ctx).With().Str("property", key.String()).Str("day", models.FormatDay(out.Date)).Logger()

	if isCancellation(ctx, cause) || searchapi.IsAuth(cause) {
		out.Status = models.DayHalted
		if err := d.writer.Do(wctx, "mark_halted", func(c context.Context) error {
			return d.store.MarkDayStatus(c, key, out.Date, runID, models.DayHalted, cause.Error())
		}); err != nil {
			out.StoreErr = fmt.Errorf("failed to record halted day: %w", err)
			log.Error().Err(err).Msg("Failed to record halted day")
		}
		metrics.RecordDay(string(models.DayHalted), 0)
		log.Warn().Err(cause).Msg("Day halted")
		return out
	}

	out.Status = models.DayFailed
	var entry *models.DeadLetterEntry
	err := d.writer.Do(wctx, "mark_failed", func(c context.Context) error {
		e, err := d.store.MarkDayFailed(c, key, out.Date, runID, cause.Error())
		if err == nil {
			entry = e
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to record dead letter")
		if ferr := d.writer.Do(wctx, "mark_failed_status", func(c context.Context) error {
			return d.store.MarkDayStatus(c, key, out.Date, runID, models.DayFailed, cause.Error())
		}); ferr != nil {
			out.StoreErr = fmt.Errorf("failed to record failed day: %w", errors.Join(err, ferr))
			out.Status = models.DayHalted
			if herr := d.writer.Do(wctx, "mark_halted", func(c context.Context) error {
				return d.store.MarkDayStatus(c, key, out.Date, runID, models.DayHalted, cause.Error())
			}); herr != nil {
				log.Error().Err(herr).Msg("Failed to record halted day")
			}
			metrics.RecordDay(string(models.DayHalted), 0)
			log.Error().Err(ferr).Msg("Failed to record failed day, halting run")
			return out
		}
	}
	out.DeadLetter = entry
	metrics.RecordDay(string(models.DayFailed), 0)
	if entry != nil {
		log.Error().Err(cause).Int("attempts", entry.Attempts).Msg("Day failed, dead letter recorded")
	} else {
		log.Error().Err(cause).Msg("Day failed without a dead letter")
	}
	return out
}

// call issues one outbound request through the retry policy. Every
// attempt takes its own token from the rate budget.
func (d *dispatcher) call(ctx context.Context, kind string, apiCalls *atomic.Int64, fn func(ctx context.Context) error) error {
	return d.retry.Do(ctx, kind, func(c context.Context) error {
		if err := d.bp.Wait(c); err != nil {
			return err
		}
		apiCalls.Add(1)
		err := fn(c)
		metrics.RecordBatch(kind, err)
		return err
	})
}

// fetchDay pulls the paginated aggregate, then the dimension breakdowns.
// Query rows are staged in the store as they arrive; staged is how many.
func (d *dispatcher) fetchDay(ctx context.Context, runID string, key models.PropertyKey, day time.Time, apiCalls *atomic.Int64) (payload *models.DayPayload, counters Counters, staged int64, err error) {
	payload = &models.DayPayload{}

	maxPages := d.cfg.MaxPagesPerDimension
	if maxPages < 1 {
		maxPages = 1
	}

	token := ""
	for page := 0; page < maxPages; page++ {
		if err := d.bp.Acquire(ctx); err != nil {
			return nil, counters, 0, fmt.Errorf("day fetch: %w", err)
		}
		var p *searchapi.DayPage
		err := d.call(ctx, "day", apiCalls, func(c context.Context) error {
			var err error
			p, err = d.client.FetchDayAggregate(c, key, day, token)
			return err
		})
		d.bp.Release()
		if err != nil {
			return nil, counters, 0, fmt.Errorf("day fetch: %w", err)
		}
		payload.Daily = append(payload.Daily, p.Rows...)
		payload.Batches++
		if p.NextPageToken == "" {
			break
		}
		token = p.NextPageToken
	}

	if len(payload.Daily) == 0 {
		return payload, counters, 0, nil
	}

	qc, staged, err := d.fetchQueries(ctx, runID, key, day, apiCalls)
	counters.Add(qc)
	if err != nil {
		return nil, counters, 0, err
	}
	payload.Batches += qc.HTTPBatches
	return payload, counters, staged, nil
}

// fetchQueries issues every dimension sub-request for day. Sub-requests
// are grouped into batches of at most BatchSize and each batch waits on the
// backpressure controller before it starts. A full page queues the next
// page of that dimension. Each batch's rows go to the writer as a staging
// write without waiting, so a slow store shows up as writer backlog.
//
// The loop below is the only goroutine touching pending; batch goroutines
// report back through results, whose length is the queue depth the
// controller sees.
func (d *dispatcher) fetchQueries(ctx context.Context, runID string, key models.PropertyKey, day time.Time, apiCalls *atomic.Int64) (Counters, int64, error) {
	var counters Counters
	if len(d.dims) == 0 {
		return counters, 0, nil
	}

	batchSize := d.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	queueSize := d.cfg.MaxQueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	pending := make([]pageRequest, 0, len(d.dims))
	for _, dim := range d.dims {
		pending = append(pending, pageRequest{QueryRequest: models.QueryRequest{Dimension: dim, RowLimit: d.cfg.RowLimit}})
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan batchResult, queueSize)
	issue := make(chan []pageRequest)

	// Issuer: one batch at a time through the controller. Every batch it
	// receives produces exactly one result.
	g.Go(func() error {
		for batch := range issue {
			if err := d.bp.Acquire(gctx); err != nil {
				results <- batchResult{reqs: batch, err: err}
				continue
			}
			g.Go(func() error {
				defer d.bp.Release()
				resp, err := d.queryBatch(gctx, key, day, batch, apiCalls)
				results <- batchResult{reqs: batch, resp: resp, err: err}
				return err
			})
		}
		return nil
	})

	wctx := context.WithoutCancel(ctx)
	var writes []<-chan error
	var staged int64
	outstanding := 0
	stopIssuing := false
	for (len(pending) > 0 && !stopIssuing) || outstanding > 0 {
		var send chan<- []pageRequest
		var next []pageRequest
		if !stopIssuing && len(pending) > 0 {
			n := min(len(pending), batchSize)
			next = pending[:n:n]
			send = issue
		}

		select {
		case send <- next:
			pending = pending[len(next):]
			outstanding++

		case r := <-results:
			outstanding--
			if r.err != nil {
				stopIssuing = true
				break
			}
			counters.HTTPBatches++
			var rows []models.QueryMetric
			for i, req := range r.reqs {
				counters.QueryRequests++
				if req.Dimension == models.DimensionPage {
					counters.URLRequests++
				}
				for _, row := range r.resp[i].Rows {
					rows = append(rows, toQueryMetric(req.Dimension, row))
				}
				if req.RowLimit > 0 && len(r.resp[i].Rows) >= req.RowLimit && req.page+1 < d.cfg.MaxPagesPerDimension {
					pending = append(pending, pageRequest{
						QueryRequest: models.QueryRequest{
							Dimension: req.Dimension,
							StartRow:  req.StartRow + req.RowLimit,
							RowLimit:  req.RowLimit,
						},
						page: req.page + 1,
					})
				}
			}
			if len(rows) > 0 {
				staged += int64(len(rows))
				writes = append(writes, d.writer.Submit(wctx, "stage_queries", func(c context.Context) error {
					return d.store.StageQueries(c, key, day, runID, rows)
				}))
			}
		}
		d.bp.SetQueueDepth(len(results))
	}
	close(issue)

	err := g.Wait()
	d.bp.SetQueueDepth(0)

	var stageErr error
	for _, done := range writes {
		if werr := d.writer.Wait(done); werr != nil && stageErr == nil {
			stageErr = werr
		}
	}
	if err != nil {
		return counters, 0, fmt.Errorf("query batch: %w", err)
	}
	if stageErr != nil {
		return counters, 0, fmt.Errorf("failed to stage query rows: %w", stageErr)
	}
	return counters, staged, nil
}

func (d *dispatcher) queryBatch(ctx context.Context, key models.PropertyKey, day time.Time, batch []pageRequest, apiCalls *atomic.Int64) ([]models.QueryResponse, error) {
	reqs := make([]models.QueryRequest, len(batch))
	for i, b := range batch {
		reqs[i] = b.QueryRequest
	}
	metrics.SyncBatchSize.Observe(float64(len(reqs)))

	var resp []models.QueryResponse
	err := d.call(ctx, "query", apiCalls, func(c context.Context) error {
		var err error
		resp, err = d.client.FetchQueryBatch(c, key, day, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp) != len(reqs) {
		return nil, &searchapi.PermanentError{
			StatusCode: 200,
			Message:    fmt.Sprintf("batch returned %d responses for %d requests", len(resp), len(reqs)),
		}
	}
	return resp, nil
}

func toQueryMetric(dim models.Dimension, row models.DimensionRow) models.QueryMetric {
	value := ""
	if len(row.Keys) > 0 {
		value = row.Keys[0]
	}
	return models.QueryMetric{Dimension: dim, Value: value, MetricRow: row.MetricRow}
}

// isCancellation reports whether err came from ctx being cancelled.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
