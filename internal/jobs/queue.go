// Package jobs is the asynchronous side of issuance: the outbox relay, the
// redis-backed job queue and the mint coordinator that consumes it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"semaphore/credentials/internal/model"
)

// ErrEmpty is returned by Dequeue when no job arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Job is the queued form of an outbox event. The id is the event id, so a
// relay that publishes the same event twice produces the same job.
type Job struct {
	ID         uuid.UUID        `json:"id"`
	Kind       model.JobKind    `json:"kind"`
	Payload    model.JobPayload `json:"payload"`
	Attempt    int              `json:"attempt"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
	Error      string           `json:"error,omitempty"`
}

func FromEvent(e model.OutboxEvent, now time.Time) Job {
	return Job{ID: e.ID, Kind: e.Kind, Payload: e.Payload, EnqueuedAt: now}
}

// Delivery is one dequeued job. Raw is the exact queued value, needed to
// remove it from the processing list.
type Delivery struct {
	Job Job
	Raw string
}

// Queue is an at-least-once job queue. A dequeued job stays leased until it
// is acked or dead-lettered; expired leases are put back by RequeueExpired.
type Queue interface {
	Enqueue(ctx context.Context, jobs ...Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	DeadLetter(ctx context.Context, d Delivery, cause error) error
	ListDead(ctx context.Context, limit int64) ([]Job, error)
	RequeueDead(ctx context.Context, limit int) (int, error)
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
}

type RedisQueue struct {
	client     redis.UniversalClient
	ready      string
	processing string
	leases     string
	dead       string
	leaseTTL   time.Duration
}

func NewRedisQueue(client redis.UniversalClient, prefix string, leaseTTL time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "credentials:jobs"
	}
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &RedisQueue{
		client:     client,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		leases:     prefix + ":leases",
		dead:       prefix + ":dead",
		leaseTTL:   leaseTTL,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		values = append(values, data)
	}
	return q.client.LPush(ctx, q.ready, values...).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, ErrEmpty
	}
	if err != nil {
		return Delivery{}, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Unreadable values would be redelivered forever.
		_, moveErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.LPush(ctx, q.dead, raw)
			return nil
		})
		if moveErr != nil {
			log.Printf("job queue dead letter error: undecodable value: %v", moveErr)
		}
		return Delivery{}, fmt.Errorf("decode job: %w", err)
	}
	job.Attempt++
	deadline := time.Now().Add(q.leaseTTL).UnixMilli()
	if err := q.client.HSet(ctx, q.leases, job.ID.String(), deadline).Err(); err != nil {
		return Delivery{}, fmt.Errorf("lease job %s: %w", job.ID, err)
	}
	return Delivery{Job: job, Raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Raw)
		pipe.HDel(ctx, q.leases, d.Job.ID.String())
		return nil
	})
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d Delivery, cause error) error {
	job := d.Job
	if cause != nil {
		job.Error = cause.Error()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Raw)
		pipe.HDel(ctx, q.leases, d.Job.ID.String())
		pipe.LPush(ctx, q.dead, data)
		return nil
	})
	return err
}

func (q *RedisQueue) ListDead(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	values, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(values))
	for _, raw := range values {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RequeueDead moves up to limit dead jobs, oldest first, back to the ready
// list with their error cleared.
func (q *RedisQueue) RequeueDead(ctx context.Context, limit int) (int, error) {
	moved := 0
	for limit <= 0 || moved < limit {
		raw, err := q.client.RPop(ctx, q.dead).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Printf("job queue requeue error: dropping undecodable dead job: %v", err)
			continue
		}
		job.Error = ""
		job.EnqueuedAt = time.Now().UTC()
		if err := q.Enqueue(ctx, job); err != nil {
			if pushErr := q.client.RPush(ctx, q.dead, raw).Err(); pushErr != nil {
				log.Printf("job queue requeue error: job %s lost from dead letter: %v", job.ID, pushErr)
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// RequeueExpired returns processing jobs whose lease ran out to the ready
// list. Jobs without a lease are treated as expired.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	values, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	leases, err := q.client.HGetAll(ctx, q.leases).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, raw := range values {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if deadline, err := strconv.ParseInt(leases[job.ID.String()], 10, 64); err == nil && deadline > now.UnixMilli() {
			continue
		}
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.HDel(ctx, q.leases, job.ID.String())
			pipe.LPush(ctx, q.ready, raw)
			return nil
		})
		if err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
