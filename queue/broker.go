package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Broker stores jobs and moves them between states. Implementations must be safe for concurrent use.
type Broker interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue claims the next runnable job, waiting up to wait for one. It returns nil, nil when none arrived.
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job, result json.RawMessage) error
	// Fail records a failed attempt. A nil retryAt makes the failure final.
	Fail(ctx context.Context, job *Job, reason string, retryAt *time.Time) error
	Get(ctx context.Context, queue, id string) (*Job, error)
	// Remove deletes a job that has not started. Active jobs yield ErrJobActive.
	Remove(ctx context.Context, queue, id string) error
	// Subscribe delivers the job once it finishes. The channel closes when ctx ends.
	Subscribe(ctx context.Context, queue, id string) (<-chan *Job, error)
	// RequeueStalled moves active jobs whose lease expired before now back to waiting
	RequeueStalled(ctx context.Context, queue string, now time.Time) (int, error)
	Counts(ctx context.Context, queue string) (Counts, error)
	Close() error
}

const (
	DefaultCompletedRetention = 5 * time.Minute
	// DefaultLease applies to jobs without a timeout
	DefaultLease = 10 * time.Minute
	leaseGrace   = time.Minute
)

func leaseFor(job *Job) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout + leaseGrace
	}
	return DefaultLease
}

// activate marks a claimed job as running
func activate(job *Job, now time.Time) {
	job.State = StateActive
	job.Attempts++
	job.ProcessedAt = &now
	job.LeaseUntil = now.Add(leaseFor(job))
}

func markCompleted(job *Job, result json.RawMessage, now time.Time) {
	job.State = StateCompleted
	job.Result = result
	job.FailedReason = ""
	job.FinishedAt = &now
	job.LeaseUntil = time.Time{}
}

func markFailed(job *Job, reason string, retryAt *time.Time, now time.Time) {
	job.FailedReason = reason
	job.LeaseUntil = time.Time{}
	if retryAt != nil {
		job.State = StateDelayed
		job.RunAt = *retryAt
		return
	}
	job.State = StateFailed
	job.FinishedAt = &now
}
