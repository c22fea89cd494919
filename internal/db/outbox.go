package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
)

func (q *PgQueries) InsertOutboxEvent(ctx context.Context, event model.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
    INSERT INTO job_outbox (id, kind, payload, created_at)
    VALUES ($1, $2, $3, $4)
  `, event.ID, event.Kind, payload, event.CreatedAt)
	return err
}

// ListPendingOutbox locks the oldest undispatched events; concurrent relays
// skip each other's rows. A limit of 0 returns every pending event.
func (q *PgQueries) ListPendingOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, `
    SELECT id, kind, payload, created_at
    FROM job_outbox
    WHERE dispatched_at IS NULL
    ORDER BY created_at
    LIMIT NULLIF($1::int, 0)
    FOR UPDATE SKIP LOCKED
  `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.Kind, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (q *PgQueries) MarkOutboxDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `UPDATE job_outbox SET dispatched_at = $1 WHERE id = ANY($2::uuid[])`, at, ids)
	return err
}
