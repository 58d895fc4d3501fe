package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresRepository stores events in outbox_events.
type PostgresRepository struct {
	tx pgx.Tx
}

func NewPostgresRepository(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{tx: tx}
}

func (r *PostgresRepository) Insert(ctx context.Context, ev Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("outbox event id: %w", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO outbox_events
        (id, topic, aggregate_type, aggregate_id, recipient_id, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, ev.Topic, ev.AggregateType, ev.AggregateID, ev.RecipientID, []byte(ev.Payload), ev.CreatedAt.UTC())
	return err
}

// Claim skips rows another drainer holds a lock or a live lease on.
func (r *PostgresRepository) Claim(ctx context.Context, now, leaseUntil time.Time, maxAttempts, limit int) ([]Event, error) {
	rows, err := r.tx.Query(ctx, `WITH due AS (
            SELECT id FROM outbox_events
            WHERE dispatched_at IS NULL
              AND attempts < $3
              AND (claimed_until IS NULL OR claimed_until <= $1)
            ORDER BY created_at, id
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        UPDATE outbox_events e SET claimed_until = $2
        FROM due WHERE e.id = due.id
        RETURNING e.id, e.topic, e.aggregate_type, e.aggregate_id, e.recipient_id, e.payload,
            e.created_at, e.dispatched_at, e.attempts, e.last_error, e.claimed_until`,
		now.UTC(), leaseUntil.UTC(), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			id      uuid.UUID
			payload []byte
		)
		if err := rows.Scan(&id, &ev.Topic, &ev.AggregateType, &ev.AggregateID, &ev.RecipientID, &payload,
			&ev.CreatedAt, &ev.DispatchedAt, &ev.Attempts, &ev.LastError, &ev.ClaimedUntil); err != nil {
			return nil, err
		}
		ev.ID = id.String()
		ev.Payload = payload
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not keep the CTE order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PostgresRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE outbox_events SET dispatched_at = $2, attempts = attempts + 1, claimed_until = NULL WHERE id = $1`, id, at.UTC())
	return err
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2, claimed_until = NULL WHERE id = $1`, id, reason)
	return err
}
