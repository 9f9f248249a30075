package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

const insertOutboxSQL = `
INSERT INTO outbox_messages
    (id, event_id, event_name, correlation_id, routing_key, payload, created_at, next_attempt_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())`

// InsertOutboxTx appends one message to the outbox inside the caller's
// transaction, so the event is captured atomically with the state change.
// The payload travels as text; lib/pq would encode []byte as bytea, which
// the jsonb column rejects.
func InsertOutboxTx(ctx context.Context, tx *sql.Tx, msg outbox.Message) error {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := tx.ExecContext(ctx, insertOutboxSQL,
		id, msg.EventID, msg.EventName, msg.CorrelationID, msg.RoutingKey, string(msg.Payload)); err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// SQLOutboxStore implements the relay's store port over database/sql.
type SQLOutboxStore struct {
	db *sql.DB
}

func NewSQLOutboxStore(db *sql.DB) *SQLOutboxStore {
	return &SQLOutboxStore{db: db}
}

const claimOutboxSQL = `
SELECT id, event_id, event_name, correlation_id, routing_key, payload, created_at, retry_count
FROM outbox_messages
WHERE published = FALSE AND next_attempt_at <= now()
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

const markInFlightSQL = `
UPDATE outbox_messages SET next_attempt_at = now() + interval '15 seconds' WHERE id = ANY($1)`

// Claim selects due messages oldest first. Claimed rows get their next
// attempt pushed a short window into the future before the claim commits,
// so a second relay cannot pick them up while this one publishes.
func (s *SQLOutboxStore) Claim(ctx context.Context, batchSize int) ([]outbox.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, claimOutboxSQL, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var msgs []outbox.Message
	var ids []string
	for rows.Next() {
		var m outbox.Message
		if err := rows.Scan(&m.ID, &m.EventID, &m.EventName, &m.CorrelationID,
			&m.RoutingKey, &m.Payload, &m.CreatedAt, &m.RetryCount); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}
	if len(msgs) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, markInFlightSQL, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark outbox batch in flight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return msgs, nil
}

func (s *SQLOutboxStore) MarkPublished(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET published = TRUE, published_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *SQLOutboxStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET retry_count = retry_count + 1, next_attempt_at = $2, last_error = $3
		 WHERE id = $1`, id, nextAttemptAt, lastErr)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// Spill parks an exhausted message in dead_letters and retires the outbox
// row in one transaction; the relay never claims it again.
func (s *SQLOutboxStore) Spill(ctx context.Context, msg outbox.Message, lastErr string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin spill tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertDeadLetterSQL,
		uuid.NewString(), "outbox_"+msg.EventName, msg.EventName, msg.Payload,
		lastErr, msg.RetryCount+1, msg.CreatedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_messages SET published = TRUE, published_at = now(), last_error = $2 WHERE id = $1`,
		msg.ID, lastErr); err != nil {
		return fmt.Errorf("retire outbox row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit spill tx: %w", err)
	}
	return nil
}
