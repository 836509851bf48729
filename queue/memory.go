package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryQueue struct {
	jobs    map[string]*Job
	waiting []string
	// notify is closed and replaced whenever work becomes available
	notify    chan struct{}
	expiry    map[string]time.Time
	completed int64
}

// MemoryBroker keeps jobs in process memory. It serves tests and single-process deployments.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*memoryQueue
	subscribers map[string][]chan *Job
	retention   time.Duration
	now         func() time.Time
	closed      bool
}

func NewMemoryBroker(completedRetention time.Duration) *MemoryBroker {
	if completedRetention <= 0 {
		completedRetention = DefaultCompletedRetention
	}
	return &MemoryBroker{
		queues:      make(map[string]*memoryQueue),
		subscribers: make(map[string][]chan *Job),
		retention:   completedRetention,
		now:         time.Now,
	}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			jobs:   make(map[string]*Job),
			notify: make(chan struct{}),
			expiry: make(map[string]time.Time),
		}
		b.queues[name] = q
	}
	return q
}

func (q *memoryQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func subscriberKey(queue, id string) string {
	return queue + "/" + id
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	q := b.queue(job.Queue)
	stored := job.clone()
	if stored.RunAt.After(b.now()) {
		stored.State = StateDelayed
	} else {
		stored.State = StateWaiting
		q.waiting = append(q.waiting, stored.ID)
	}
	q.jobs[stored.ID] = stored
	job.State = stored.State
	q.wake()
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context, queue string, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}
		q := b.queue(queue)
		now := b.now()
		nextDue := b.promoteDue(q, now)

		if len(q.waiting) > 0 {
			id := q.waiting[0]
			q.waiting = q.waiting[1:]
			job := q.jobs[id]
			activate(job, now)
			out := job.clone()
			b.mu.Unlock()
			return out, nil
		}
		notify := q.notify
		b.mu.Unlock()

		var (
			due      <-chan time.Time
			dueTimer *time.Timer
		)
		if !nextDue.IsZero() {
			dueTimer = time.NewTimer(nextDue.Sub(now))
			due = dueTimer.C
		}

		select {
		case <-notify:
		case <-due:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if dueTimer != nil {
			dueTimer.Stop()
		}
	}
}

// promoteDue moves delayed jobs whose time has come to the waiting list and returns the
// earliest future run time, or zero when none is pending. Expired finished jobs are dropped.
func (b *MemoryBroker) promoteDue(q *memoryQueue, now time.Time) time.Time {
	var next time.Time
	for id, job := range q.jobs {
		if exp, ok := q.expiry[id]; ok && !now.Before(exp) {
			delete(q.jobs, id)
			delete(q.expiry, id)
			continue
		}
		if job.State != StateDelayed {
			continue
		}
		if !job.RunAt.After(now) {
			job.State = StateWaiting
			q.waiting = append(q.waiting, id)
			continue
		}
		if next.IsZero() || job.RunAt.Before(next) {
			next = job.RunAt
		}
	}
	return next
}

func (b *MemoryBroker) Complete(_ context.Context, job *Job, result json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	stored, ok := q.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	now := b.now()
	markCompleted(stored, result, now)
	q.completed++
	if stored.RemoveOnComplete {
		q.expiry[stored.ID] = now.Add(b.retention)
	}
	*job = *stored.clone()
	b.publish(stored)
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, job *Job, reason string, retryAt *time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(job.Queue)
	stored, ok := q.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	now := b.now()
	markFailed(stored, reason, retryAt, now)
	*job = *stored.clone()

	if retryAt != nil {
		q.wake()
		return nil
	}
	if stored.RemoveOnFail {
		q.expiry[stored.ID] = now.Add(b.retention)
	}
	b.publish(stored)
	return nil
}

func (b *MemoryBroker) publish(job *Job) {
	key := subscriberKey(job.Queue, job.ID)
	for _, ch := range b.subscribers[key] {
		select {
		case ch <- job.clone():
		default:
		}
	}
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if exp, ok := q.expiry[id]; ok && !b.now().Before(exp) {
		delete(q.jobs, id)
		delete(q.expiry, id)
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (b *MemoryBroker) Remove(_ context.Context, queue, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State == StateActive {
		return ErrJobActive
	}
	delete(q.jobs, id)
	delete(q.expiry, id)
	for i, wid := range q.waiting {
		if wid == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, queue, id string) (<-chan *Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	key := subscriberKey(queue, id)
	ch := make(chan *Job, 1)
	b.subscribers[key] = append(b.subscribers[key], ch)

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[key]
		for i, s := range subs {
			if s == ch {
				b.subscribers[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[key]) == 0 {
			delete(b.subscribers, key)
		}
		close(ch)
	}()

	return ch, nil
}

func (b *MemoryBroker) RequeueStalled(_ context.Context, queue string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	requeued := 0
	for id, job := range q.jobs {
		if job.State == StateActive && job.LeaseUntil.Before(now) {
			job.State = StateWaiting
			job.LeaseUntil = time.Time{}
			q.waiting = append([]string{id}, q.waiting...)
			requeued++
		}
	}
	if requeued > 0 {
		q.wake()
	}
	return requeued, nil
}

func (b *MemoryBroker) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	counts := Counts{Completed: q.completed}
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			counts.Waiting++
		case StateDelayed:
			counts.Delayed++
		case StateActive:
			counts.Active++
		case StateFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.wake()
	}
	return nil
}
