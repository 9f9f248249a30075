package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

// InsertOutboxPgx appends one message to the outbox inside the caller's pgx
// transaction.
func InsertOutboxPgx(ctx context.Context, tx pgx.Tx, msg outbox.Message) error {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := tx.Exec(ctx, insertOutboxSQL,
		id, msg.EventID, msg.EventName, msg.CorrelationID, msg.RoutingKey, string(msg.Payload)); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// PgxOutboxStore implements the relay's store port over a pgx pool.
type PgxOutboxStore struct {
	pool *pgxpool.Pool
}

func NewPgxOutboxStore(pool *pgxpool.Pool) *PgxOutboxStore {
	return &PgxOutboxStore{pool: pool}
}

func (s *PgxOutboxStore) Claim(ctx context.Context, batchSize int) ([]outbox.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, claimOutboxSQL, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}

	var msgs []outbox.Message
	var ids []string
	for rows.Next() {
		var m outbox.Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.EventName, &m.CorrelationID,
			&m.RoutingKey, &m.Payload, &m.CreatedAt, &m.RetryCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}
	if len(msgs) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, markInFlightSQL, ids); err != nil {
		return nil, fmt.Errorf("mark outbox batch in flight: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return msgs, nil
}

func (s *PgxOutboxStore) MarkPublished(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET published = TRUE, published_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *PgxOutboxStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages
		 SET retry_count = retry_count + 1, next_attempt_at = $2, last_error = $3
		 WHERE id = $1`, id, nextAttemptAt, lastErr)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (s *PgxOutboxStore) Spill(ctx context.Context, msg outbox.Message, lastErr string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin spill tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertDeadLetterSQL,
		uuid.NewString(), "outbox_"+msg.EventName, msg.EventName, msg.Payload,
		lastErr, msg.RetryCount+1, msg.CreatedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE outbox_messages SET published = TRUE, published_at = now(), last_error = $2 WHERE id = $1`,
		msg.ID, lastErr); err != nil {
		return fmt.Errorf("retire outbox row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit spill tx: %w", err)
	}
	return nil
}
