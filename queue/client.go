package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const DefaultPollInterval = 500 * time.Millisecond

// Client enqueues jobs and waits for their results
type Client struct {
	broker       Broker
	pollInterval time.Duration
}

func NewClient(broker Broker, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{broker: broker, pollInterval: pollInterval}
}

func (c *Client) Broker() Broker {
	return c.broker
}

// Add enqueues a job and returns its id without waiting for it to run
func (c *Client) Add(ctx context.Context, queue, name string, payload any, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for %s: %w", name, err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	job := &Job{
		ID:               id,
		Queue:            queue,
		Name:             name,
		Payload:          data,
		MaxAttempts:      attempts,
		Backoff:          opts.Backoff,
		Timeout:          opts.Timeout,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		CreatedAt:        now,
		RunAt:            now.Add(opts.Delay),
	}

	if err := c.broker.Enqueue(ctx, job); err != nil {
		slog.Error("Failed to enqueue job",
			"layer", "queue",
			"operation", "add",
			"queue", queue,
			"job_name", name,
			"error", err)
		return "", err
	}

	slog.Debug("Job enqueued", "layer", "queue", "queue", queue, "job_id", job.ID, "job_name", name)
	return job.ID, nil
}

func (c *Client) Get(ctx context.Context, queue, id string) (*Job, error) {
	return c.broker.Get(ctx, queue, id)
}

func (c *Client) Status(ctx context.Context, queue, id string) (State, error) {
	job, err := c.broker.Get(ctx, queue, id)
	if err != nil {
		return "", err
	}
	return job.State, nil
}

// Cancel removes a job that has not started yet
func (c *Client) Cancel(ctx context.Context, queue, id string) error {
	return c.broker.Remove(ctx, queue, id)
}

func (c *Client) Counts(ctx context.Context, queue string) (Counts, error) {
	return c.broker.Counts(ctx, queue)
}

// Wait blocks until the job finishes, the timeout elapses or ctx ends. A completed job's
// result is decoded into out when out is non-nil. Failures surface as *JobFailedError,
// a vanished job as ErrJobNotFound and the deadline as *TimeoutError.
func (c *Client) Wait(ctx context.Context, queue, id string, timeout time.Duration, out any) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the first state check so a completion in between is not missed
	updates, err := c.broker.Subscribe(subCtx, queue, id)
	if err != nil {
		slog.Warn("Job subscription unavailable, polling only",
			"layer", "queue",
			"operation", "wait",
			"queue", queue,
			"job_id", id,
			"error", err)
		updates = nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	if done, err := c.check(ctx, queue, id, out); done {
		return err
	}

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if job.Finished() {
				return c.resolve(job, out)
			}
		case <-ticker.C:
			if done, err := c.check(ctx, queue, id, out); done {
				return err
			}
		case <-deadline.C:
			return &TimeoutError{JobID: id, Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// check polls the job state and reports whether Wait should return
func (c *Client) check(ctx context.Context, queue, id string, out any) (bool, error) {
	job, err := c.broker.Get(ctx, queue, id)
	if errors.Is(err, ErrJobNotFound) {
		return true, ErrJobNotFound
	}
	if err != nil {
		// Transient broker errors are retried on the next tick
		slog.Warn("Failed to poll job state",
			"layer", "queue",
			"operation", "wait",
			"queue", queue,
			"job_id", id,
			"error", err)
		return false, nil
	}
	if !job.Finished() {
		return false, nil
	}
	return true, c.resolve(job, out)
}

func (c *Client) resolve(job *Job, out any) error {
	if job.State == StateFailed {
		return &JobFailedError{JobID: job.ID, Reason: job.FailedReason}
	}
	if out != nil && len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, out); err != nil {
			return fmt.Errorf("failed to decode result of job %s: %w", job.ID, err)
		}
	}
	return nil
}
