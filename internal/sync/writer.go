// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/searchsync/internal/logging"
	"github.com/tomtom215/searchsync/internal/metrics"
)

type writeJob struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// Writer serializes every SyncDay and dead letter write through a single
// goroutine, in submission order. Its depth (queued plus running jobs)
// feeds the backpressure controller.
type Writer struct {
	jobs      chan *writeJob
	threshold int
	depth     atomic.Int64

	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWriter creates a writer with a bounded job queue. The writer reports a
// backlog once its depth reaches backlogThreshold; zero disables the flag.
func NewWriter(queueSize, backlogThreshold int) *Writer {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Writer{
		jobs:      make(chan *writeJob, queueSize),
		threshold: backlogThreshold,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Run processes jobs until Stop is called, then drains what is queued.
func (w *Writer) Run() {
	defer close(w.stopped)
	for {
		select {
		case job := <-w.jobs:
			w.execute(job)
		case <-w.quit:
			for {
				select {
				case job := <-w.jobs:
					w.execute(job)
				default:
					return
				}
			}
		}
	}
}

// Stop asks Run to drain and return, and waits for it.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}

func (w *Writer) execute(job *writeJob) {
	start := time.Now()
	// Writes are never interrupted half way; the caller's cancellation
	// only applies before a job is queued.
	err := job.fn(context.WithoutCancel(job.ctx))
	if err != nil {
		metrics.WriterErrors.WithLabelValues(job.name).Inc()
		logging.Ctx(job.ctx).Error().Err(err).
			Str("job", job.name).
			Dur("duration", time.Since(start)).
			Msg("Writer job failed")
	}
	job.done <- err
	metrics.WriterQueueDepth.Set(float64(w.depth.Add(-1)))
}

// Submit queues fn and returns a channel that receives its result once it
// has run. The channel is buffered, so a caller may stop listening. Once
// queued, a job always runs to completion even if ctx is cancelled.
func (w *Writer) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) <-chan error {
	job := &writeJob{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}
	select {
	case <-w.quit:
		job.done <- ErrWriterStopped
		return job.done
	default:
	}

	metrics.WriterQueueDepth.Set(float64(w.depth.Add(1)))
	select {
	case w.jobs <- job:
	case <-w.quit:
		metrics.WriterQueueDepth.Set(float64(w.depth.Add(-1)))
		job.done <- ErrWriterStopped
	case <-ctx.Done():
		metrics.WriterQueueDepth.Set(float64(w.depth.Add(-1)))
		job.done <- ctx.Err()
	}
	return job.done
}

// Wait blocks until a job returned by Submit has run.
func (w *Writer) Wait(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-w.stopped:
		select {
		case err := <-done:
			return err
		default:
			return ErrWriterStopped
		}
	}
}

// Do queues fn and waits for it to run.
func (w *Writer) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return w.Wait(w.Submit(ctx, name, fn))
}

// Depth returns the number of queued and running jobs.
func (w *Writer) Depth() int {
	return int(w.depth.Load())
}

// Backlogged reports whether the depth has reached the threshold.
func (w *Writer) Backlogged() bool {
	return w.threshold > 0 && w.Depth() >= w.threshold
}
