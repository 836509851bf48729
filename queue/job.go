// Package queue is a durable job queue with retrying workers and a wait-for-result client.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobActive    = errors.New("job is being processed")
	ErrBrokerClosed = errors.New("broker is closed")
)

type Job struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	State            State           `json:"state"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"maxAttempts"`
	Backoff          time.Duration   `json:"backoff"`
	Timeout          time.Duration   `json:"timeout,omitempty"`
	RemoveOnComplete bool            `json:"removeOnComplete"`
	RemoveOnFail     bool            `json:"removeOnFail"`
	Result           json.RawMessage `json:"result,omitempty"`
	FailedReason     string          `json:"failedReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	FinishedAt       *time.Time      `json:"finishedAt,omitempty"`
	RunAt            time.Time       `json:"runAt"`
	LeaseUntil       time.Time       `json:"leaseUntil,omitempty"`
}

// Finished reports whether the job reached a terminal state
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// DecodePayload unmarshals the payload into dst
func (j *Job) DecodePayload(dst any) error {
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// BackoffDelay is the wait before retrying after the given failed attempt (1-based)
func (j *Job) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return j.Backoff * time.Duration(1<<(attempt-1))
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Result = append(json.RawMessage(nil), j.Result...)
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

type Options struct {
	Attempts         int
	Backoff          time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
	// Timeout bounds a single handler run; zero means no limit
	Timeout time.Duration
	// Delay postpones the first run
	Delay time.Duration
	// JobID fixes the job id; a random one is generated when empty
	JobID string
}

func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		Backoff:          2 * time.Second,
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// Counts is a per-state snapshot of one queue
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the worker fails the job without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// JobFailedError is returned by Client.Wait when the job exhausted its attempts
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// TimeoutError is returned by Client.Wait when the job did not finish in time
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timeout after %s", e.JobID, e.Timeout)
}
