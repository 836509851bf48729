package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "moor:queue"

// RedisBroker keeps job records as JSON strings and tracks state in per-queue lists and sorted sets:
//
//	<prefix>:<queue>:job:<id>   job record
//	<prefix>:<queue>:wait       list, LPUSH in and BRPOPLPUSH out
//	<prefix>:<queue>:active     list of claimed ids
//	<prefix>:<queue>:delayed    zset scored by run time (ms)
//	<prefix>:<queue>:failed     zset scored by finish time (ms)
//	<prefix>:<queue>:completed  counter
//	<prefix>:<queue>:done:<id>  pub/sub channel for the finished record
type RedisBroker struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// DialRedis connects and pings the server before returning the client
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisBroker(client *redis.Client, prefix string, completedRetention time.Duration) *RedisBroker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if completedRetention <= 0 {
		completedRetention = DefaultCompletedRetention
	}
	return &RedisBroker{
		client:    client,
		prefix:    prefix,
		retention: completedRetention,
		now:       time.Now,
	}
}

func (b *RedisBroker) key(queue, suffix string) string {
	return b.prefix + ":" + queue + ":" + suffix
}

func (b *RedisBroker) jobKey(queue, id string) string {
	return b.key(queue, "job:"+id)
}

func (b *RedisBroker) doneChannel(queue, id string) string {
	return b.key(queue, "done:"+id)
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (b *RedisBroker) load(ctx context.Context, queue, id string) (*Job, error) {
	data, err := b.client.Get(ctx, b.jobKey(queue, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job) error {
	delayed := job.RunAt.After(b.now())
	if delayed {
		job.State = StateDelayed
	} else {
		job.State = StateWaiting
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.Queue, job.ID), data, 0)
		if delayed {
			pipe.ZAdd(ctx, b.key(job.Queue, "delayed"), redis.Z{Score: millis(job.RunAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, b.key(job.Queue, "wait"), job.ID)
		}
		return nil
	})
	return err
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string, wait time.Duration) (*Job, error) {
	if err := b.promoteDue(ctx, queue); err != nil {
		return nil, err
	}

	// BRPOPLPUSH takes whole seconds
	if wait < time.Second {
		wait = time.Second
	}
	id, err := b.client.BRPopLPush(ctx, b.key(queue, "wait"), b.key(queue, "active"), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := b.load(ctx, queue, id)
	if errors.Is(err, ErrJobNotFound) {
		// Removed between enqueue and claim
		b.client.LRem(ctx, b.key(queue, "active"), 1, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	activate(job, b.now())
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	// XX keeps a record deleted by Remove after the load from coming back
	claimed, err := b.client.SetXX(ctx, b.jobKey(queue, id), data, 0).Result()
	if err != nil {
		return nil, err
	}
	if !claimed {
		b.client.LRem(ctx, b.key(queue, "active"), 1, id)
		return nil, nil
	}
	return job, nil
}

// promoteDue moves delayed jobs that are due onto the wait list. ZREM decides which caller wins a job.
func (b *RedisBroker) promoteDue(ctx context.Context, queue string) error {
	delayedKey := b.key(queue, "delayed")
	ids, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(b.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := b.client.ZRem(ctx, delayedKey, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		job, err := b.load(ctx, queue, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		job.State = StateWaiting
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := b.save(ctx, pipe, job, 0); err != nil {
				return err
			}
			pipe.LPush(ctx, b.key(queue, "wait"), id)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBroker) save(ctx context.Context, c redis.Cmdable, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.Set(ctx, b.jobKey(job.Queue, job.ID), data, ttl).Err()
}

func (b *RedisBroker) Complete(ctx context.Context, job *Job, result json.RawMessage) error {
	markCompleted(job, result, b.now())
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if job.RemoveOnComplete {
		ttl = b.retention
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(job.Queue, "active"), 1, job.ID)
		pipe.Set(ctx, b.jobKey(job.Queue, job.ID), data, ttl)
		pipe.Incr(ctx, b.key(job.Queue, "completed"))
		pipe.Publish(ctx, b.doneChannel(job.Queue, job.ID), data)
		return nil
	})
	return err
}

func (b *RedisBroker) Fail(ctx context.Context, job *Job, reason string, retryAt *time.Time) error {
	now := b.now()
	markFailed(job, reason, retryAt, now)
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(job.Queue, "active"), 1, job.ID)
		if retryAt != nil {
			pipe.Set(ctx, b.jobKey(job.Queue, job.ID), data, 0)
			pipe.ZAdd(ctx, b.key(job.Queue, "delayed"), redis.Z{Score: millis(*retryAt), Member: job.ID})
			return nil
		}
		if job.RemoveOnFail {
			pipe.Set(ctx, b.jobKey(job.Queue, job.ID), data, b.retention)
		} else {
			pipe.Set(ctx, b.jobKey(job.Queue, job.ID), data, 0)
			pipe.ZAdd(ctx, b.key(job.Queue, "failed"), redis.Z{Score: millis(now), Member: job.ID})
		}
		pipe.Publish(ctx, b.doneChannel(job.Queue, job.ID), data)
		return nil
	})
	return err
}

func (b *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	return b.load(ctx, queue, id)
}

const removeAttempts = 5

// Remove deletes a job that no worker has claimed. The record and both lists are watched,
// so a claim racing the removal aborts the transaction and the check runs again.
func (b *RedisBroker) Remove(ctx context.Context, queue, id string) error {
	jobKey := b.jobKey(queue, id)
	waitKey := b.key(queue, "wait")
	activeKey := b.key(queue, "active")

	remove := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, jobKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("corrupt job record %s: %w", id, err)
		}
		if job.State == StateActive {
			return ErrJobActive
		}
		// Popped by a worker that has not written the claim yet
		claimed, err := tx.LRange(ctx, activeKey, 0, -1).Result()
		if err != nil {
			return err
		}
		if slices.Contains(claimed, id) {
			return ErrJobActive
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, waitKey, 0, id)
			pipe.ZRem(ctx, b.key(queue, "delayed"), id)
			pipe.ZRem(ctx, b.key(queue, "failed"), id)
			pipe.Del(ctx, jobKey)
			return nil
		})
		return err
	}

	for range removeAttempts {
		err := b.client.Watch(ctx, remove, jobKey, waitKey, activeKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("job %s kept changing while being removed: %w", id, redis.TxFailedErr)
}

func (b *RedisBroker) Subscribe(ctx context.Context, queue, id string) (<-chan *Job, error) {
	pubsub := b.client.Subscribe(ctx, b.doneChannel(queue, id))
	// Wait for the subscription to be confirmed so no publish can slip past
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan *Job, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var job Job
				if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
					slog.Warn("Discarding malformed job notification",
						"layer", "queue",
						"operation", "subscribe",
						"channel", msg.Channel,
						"error", err)
					continue
				}
				select {
				case out <- &job:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) RequeueStalled(ctx context.Context, queue string, now time.Time) (int, error) {
	activeKey := b.key(queue, "active")
	ids, err := b.client.LRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		job, err := b.load(ctx, queue, id)
		if errors.Is(err, ErrJobNotFound) {
			b.client.LRem(ctx, activeKey, 1, id)
			continue
		}
		if err != nil {
			return requeued, err
		}
		if job.State != StateActive || !job.LeaseUntil.Before(now) {
			continue
		}

		removed, err := b.client.LRem(ctx, activeKey, 1, id).Result()
		if err != nil {
			return requeued, err
		}
		if removed == 0 {
			continue
		}

		job.State = StateWaiting
		job.LeaseUntil = time.Time{}
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := b.save(ctx, pipe, job, 0); err != nil {
				return err
			}
			// RPUSH puts it at the consuming end
			pipe.RPush(ctx, b.key(queue, "wait"), id)
			return nil
		})
		if err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := b.client.Pipeline()
	waiting := pipe.LLen(ctx, b.key(queue, "wait"))
	delayed := pipe.ZCard(ctx, b.key(queue, "delayed"))
	active := pipe.LLen(ctx, b.key(queue, "active"))
	completed := pipe.Get(ctx, b.key(queue, "completed"))
	failed := pipe.ZCard(ctx, b.key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, err
	}

	done, _ := completed.Int64()
	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: done,
		Failed:    failed.Val(),
	}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
