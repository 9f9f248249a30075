package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
)

const insertDeadLetterSQL = `
INSERT INTO dead_letters
    (id, source_queue, event_type, payload, error_message, attempt_count, first_attempt_at, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const listDeadLettersSQL = `
SELECT id, source_queue, event_type, payload, error_message, attempt_count,
       first_attempt_at, failed_at, resolved, resolved_at, resolved_by, resolution_notes
FROM dead_letters
WHERE ($1 OR resolved = FALSE)
ORDER BY failed_at DESC
LIMIT $2`

const resolveDeadLetterSQL = `
UPDATE dead_letters
SET resolved = TRUE,
    resolved_at = COALESCE(resolved_at, now()),
    resolved_by = COALESCE(resolved_by, NULLIF($2, '')),
    resolution_notes = COALESCE(resolution_notes, NULLIF($3, ''))
WHERE id = $1`

// SQLDeadLetterStore implements the dead-letter store over database/sql.
type SQLDeadLetterStore struct {
	db *sql.DB
}

func NewSQLDeadLetterStore(db *sql.DB) *SQLDeadLetterStore {
	return &SQLDeadLetterStore{db: db}
}

func (s *SQLDeadLetterStore) Save(ctx context.Context, msg *deadletter.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.FailedAt.IsZero() {
		msg.FailedAt = time.Now().UTC()
	}
	if msg.FirstAttemptAt.IsZero() {
		msg.FirstAttemptAt = msg.FailedAt
	}
	if _, err := s.db.ExecContext(ctx, insertDeadLetterSQL,
		msg.ID, msg.SourceQueue, msg.EventType, msg.Payload, msg.ErrorMessage,
		msg.AttemptCount, msg.FirstAttemptAt, msg.FailedAt); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func (s *SQLDeadLetterStore) List(ctx context.Context, includeResolved bool, limit int) ([]deadletter.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, listDeadLettersSQL, includeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var msgs []deadletter.Message
	for rows.Next() {
		var m deadletter.Message
		var resolvedAt sql.NullTime
		var resolvedBy, notes sql.NullString
		if err := rows.Scan(&m.ID, &m.SourceQueue, &m.EventType, &m.Payload, &m.ErrorMessage,
			&m.AttemptCount, &m.FirstAttemptAt, &m.FailedAt, &m.Resolved, &resolvedAt,
			&resolvedBy, &notes); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			m.ResolvedAt = &t
		}
		if resolvedBy.Valid {
			m.ResolvedBy = &resolvedBy.String
		}
		if notes.Valid {
			m.ResolutionNotes = &notes.String
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return msgs, nil
}

// Resolve marks a record handled. Resolving twice is a no-op so operators
// can retry the call safely; the first call's attribution is kept.
func (s *SQLDeadLetterStore) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	res, err := s.db.ExecContext(ctx, resolveDeadLetterSQL, id, resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if n == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}
