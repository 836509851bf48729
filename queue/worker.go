package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Handler processes one job. The returned value is JSON encoded into the job result.
type Handler func(ctx context.Context, job *Job) (any, error)

type Worker struct {
	Broker      Broker
	Queue       string
	Handler     Handler
	Concurrency int
	// PollWait is how long one Dequeue call blocks
	PollWait time.Duration
	// StallInterval is how often expired leases are reclaimed
	StallInterval time.Duration
}

// Run processes jobs until ctx is cancelled, then waits for in-flight handlers to return
func (w *Worker) Run(ctx context.Context) error {
	if w.Broker == nil || w.Handler == nil || w.Queue == "" {
		return errors.New("worker requires a broker, a queue and a handler")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	slog.Info("Queue worker started",
		"layer", "queue",
		"queue", w.Queue,
		"concurrency", concurrency)

	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, i)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reap(ctx)
	}()

	wg.Wait()
	slog.Info("Queue worker stopped", "layer", "queue", "queue", w.Queue)
	return nil
}

func (w *Worker) pollWait() time.Duration {
	if w.PollWait > 0 {
		return w.PollWait
	}
	return time.Second
}

func (w *Worker) loop(ctx context.Context, slot int) {
	// Broker outages back off instead of spinning
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	for ctx.Err() == nil {
		job, err := w.Broker.Dequeue(ctx, w.Queue, w.pollWait())
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				return
			}
			delay := retry.NextBackOff()
			slog.Error("Failed to dequeue job",
				"layer", "queue",
				"operation", "dequeue",
				"queue", w.Queue,
				"slot", slot,
				"retry_in", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		retry.Reset()
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := w.invoke(runCtx, job)

	// Bookkeeping must land even while shutting down
	bookCtx := context.WithoutCancel(ctx)

	if err == nil {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			err = Permanent(fmt.Errorf("failed to encode job result: %w", marshalErr))
		} else {
			if completeErr := w.Broker.Complete(bookCtx, job, data); completeErr != nil {
				slog.Error("Failed to complete job",
					"layer", "queue",
					"operation", "complete",
					"queue", w.Queue,
					"job_id", job.ID,
					"error", completeErr)
				return
			}
			slog.Debug("Job completed",
				"layer", "queue",
				"queue", w.Queue,
				"job_id", job.ID,
				"job_name", job.Name,
				"duration", time.Since(start))
			return
		}
	}

	var retryAt *time.Time
	if !IsPermanent(err) && job.Attempts < job.MaxAttempts {
		at := time.Now().Add(job.BackoffDelay(job.Attempts))
		retryAt = &at
	}

	slog.Warn("Job attempt failed",
		"layer", "queue",
		"queue", w.Queue,
		"job_id", job.ID,
		"job_name", job.Name,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"will_retry", retryAt != nil,
		"error", err)

	if failErr := w.Broker.Fail(bookCtx, job, err.Error(), retryAt); failErr != nil {
		slog.Error("Failed to record job failure",
			"layer", "queue",
			"operation", "fail",
			"queue", w.Queue,
			"job_id", job.ID,
			"error", failErr)
	}
}

func (w *Worker) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job handler panicked",
				"layer", "queue",
				"queue", w.Queue,
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return w.Handler(ctx, job)
}

func (w *Worker) reap(ctx context.Context) {
	interval := w.StallInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Broker.RequeueStalled(ctx, w.Queue, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Failed to requeue stalled jobs",
						"layer", "queue",
						"operation", "requeue_stalled",
						"queue", w.Queue,
						"error", err)
				}
				continue
			}
			if n > 0 {
				slog.Warn("Requeued stalled jobs", "layer", "queue", "queue", w.Queue, "count", n)
			}
		}
	}
}
