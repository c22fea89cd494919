package jobs

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
)

type RelayOptions struct {
	Interval  time.Duration
	Timeout   time.Duration
	BatchSize int
}

// Relay moves committed outbox events onto the queue. It polls on an interval
// and also wakes up when Notify is called after a commit.
type Relay struct {
	store    db.Store
	queue    Queue
	interval time.Duration
	timeout  time.Duration
	batch    int
	wake     chan struct{}
	now      func() time.Time
}

func NewRelay(store db.Store, queue Queue, opts RelayOptions) *Relay {
	r := &Relay{
		store:    store,
		queue:    queue,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		batch:    opts.BatchSize,
		wake:     make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	return r
}

// Notify never blocks; wake-ups coalesce.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-r.wake:
			}
			r.drain(ctx)
		}
	}()
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		tickCtx, cancel := context.WithTimeout(ctx, r.timeout)
		n, err := r.Dispatch(tickCtx)
		cancel()
		if err != nil {
			log.Printf("outbox relay error: %v", err)
			return
		}
		if n < r.batch {
			return
		}
	}
}

// Dispatch publishes one batch. Events are marked only when the enqueue
// succeeded; a crash between the two republishes the same job ids, which the
// coordinator tolerates.
func (r *Relay) Dispatch(ctx context.Context) (int, error) {
	dispatched := 0
	err := r.store.WithTx(ctx, func(q db.Queries) error {
		events, err := q.ListPendingOutbox(ctx, r.batch)
		if err != nil || len(events) == 0 {
			return err
		}
		now := r.now()
		jobs := make([]Job, 0, len(events))
		ids := make([]uuid.UUID, 0, len(events))
		for _, e := range events {
			jobs = append(jobs, FromEvent(e, now))
			ids = append(ids, e.ID)
		}
		if err := r.queue.Enqueue(ctx, jobs...); err != nil {
			return err
		}
		if err := q.MarkOutboxDispatched(ctx, ids, now); err != nil {
			return err
		}
		dispatched = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	outboxDispatched.Add(float64(dispatched))
	return dispatched, nil
}
