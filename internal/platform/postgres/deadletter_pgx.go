package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
)

// PgxDeadLetterStore implements the dead-letter store over a pgx pool.
type PgxDeadLetterStore struct {
	pool *pgxpool.Pool
}

func NewPgxDeadLetterStore(pool *pgxpool.Pool) *PgxDeadLetterStore {
	return &PgxDeadLetterStore{pool: pool}
}

func (s *PgxDeadLetterStore) Save(ctx context.Context, msg *deadletter.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.FailedAt.IsZero() {
		msg.FailedAt = time.Now().UTC()
	}
	if msg.FirstAttemptAt.IsZero() {
		msg.FirstAttemptAt = msg.FailedAt
	}
	if _, err := s.pool.Exec(ctx, insertDeadLetterSQL,
		msg.ID, msg.SourceQueue, msg.EventType, msg.Payload, msg.ErrorMessage,
		msg.AttemptCount, msg.FirstAttemptAt, msg.FailedAt); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func (s *PgxDeadLetterStore) List(ctx context.Context, includeResolved bool, limit int) ([]deadletter.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, listDeadLettersSQL, includeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var msgs []deadletter.Message
	for rows.Next() {
		var m deadletter.Message
		var resolvedAt *time.Time
		var resolvedBy, notes *string
		if err := rows.Scan(&m.ID, &m.SourceQueue, &m.EventType, &m.Payload, &m.ErrorMessage,
			&m.AttemptCount, &m.FirstAttemptAt, &m.FailedAt, &m.Resolved, &resolvedAt,
			&resolvedBy, &notes); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		m.ResolvedAt = resolvedAt
		m.ResolvedBy = resolvedBy
		m.ResolutionNotes = notes
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return msgs, nil
}

func (s *PgxDeadLetterStore) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	tag, err := s.pool.Exec(ctx, resolveDeadLetterSQL, id, resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}
