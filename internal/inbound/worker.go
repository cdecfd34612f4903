package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/hystdevtv/pear/internal/sweeper"
)

type BatchRunner interface {
	RunBatch(ctx context.Context) (Summary, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

type WorkerOptions struct {
	BatchInterval  time.Duration
	SweepInterval  time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Worker drives batch passes and sweeps from a single goroutine, so the
// two never overlap within one process.
type Worker struct {
	batches        BatchRunner
	sweeps         Sweeper
	batchInterval  time.Duration
	sweepInterval  time.Duration
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
	failures       int
}

func NewWorker(batches BatchRunner, sweeps Sweeper, opts WorkerOptions) *Worker {
	batch := opts.BatchInterval
	if batch <= 0 {
		batch = 5 * time.Minute
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Hour
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = 10 * time.Minute
	}
	if maxRetry > batch {
		maxRetry = batch
	}

	return &Worker{
		batches:        batches,
		sweeps:         sweeps,
		batchInterval:  batch,
		sweepInterval:  sweep,
		retryBaseDelay: retryBase,
		maxRetryDelay:  maxRetry,
	}
}

// Run starts with a batch and a sweep, then repeats both on their
// intervals until ctx is done. A failed batch is retried with backoff.
func (w *Worker) Run(ctx context.Context) {
	batchTimer := time.NewTimer(0)
	defer batchTimer.Stop()
	sweepTimer := time.NewTimer(0)
	defer sweepTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-batchTimer.C:
			batchTimer.Reset(w.runBatch(ctx))
		case <-sweepTimer.C:
			w.runSweep(ctx)
			sweepTimer.Reset(w.sweepInterval)
		}
	}
}

func (w *Worker) runBatch(ctx context.Context) time.Duration {
	if _, err := w.batches.RunBatch(ctx); err != nil {
		if ctx.Err() != nil {
			return w.batchInterval
		}
		w.failures++
		delay := w.retryDelay(w.failures)
		slog.Error("batch run failed", "attempt", w.failures, "retry_in", delay.String(), "error", err)
		return delay
	}
	w.failures = 0
	return w.batchInterval
}

func (w *Worker) runSweep(ctx context.Context) {
	if w.sweeps == nil {
		return
	}
	if _, err := w.sweeps.Sweep(ctx); err != nil && ctx.Err() == nil {
		slog.Error("sweep failed", "error", err)
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	if delay > w.maxRetryDelay {
		return w.maxRetryDelay
	}
	return delay
}
