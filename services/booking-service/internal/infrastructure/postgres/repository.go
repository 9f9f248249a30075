package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
	platformpg "github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/postgres"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/booking-service/internal/domain"
)

// Repository stores bookings in Postgres. Writes that emit saga events
// insert the outbox row in the same transaction.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const insertBookingSQL = `
INSERT INTO bookings (id, user_id, room_id, amount, status, correlation_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())`

func (r *Repository) Create(ctx context.Context, b *domain.Booking, evt outbox.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertBookingSQL,
		b.ID, b.UserID, b.RoomID, b.Amount, string(b.Status), b.CorrelationID); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	if err := platformpg.InsertOutboxTx(ctx, tx, evt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

const getBookingSQL = `
SELECT id, user_id, room_id, amount, status, reason, correlation_id,
       created_at, updated_at, confirmed_at, cancelled_at
FROM bookings
WHERE id = $1`

func (r *Repository) Get(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	var confirmedAt, cancelledAt sql.NullTime

	err := r.db.QueryRowContext(ctx, getBookingSQL, id).Scan(
		&b.ID, &b.UserID, &b.RoomID, &b.Amount, &status, &b.Reason, &b.CorrelationID,
		&b.CreatedAt, &b.UpdatedAt, &confirmedAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	b.Status = domain.Status(status)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		b.ConfirmedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

const confirmBookingSQL = `
UPDATE bookings
SET status = 'CONFIRMED', confirmed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PENDING'`

func (r *Repository) Confirm(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, confirmBookingSQL, id)
	if err != nil {
		return false, fmt.Errorf("confirm booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm booking: %w", err)
	}
	return n > 0, nil
}

const cancelBookingSQL = `
UPDATE bookings
SET status = 'CANCELLED', reason = $2, cancelled_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PENDING'`

// Cancel moves a PENDING booking to CANCELLED and captures the
// BookingCancelled event atomically. When the row is already terminal the
// transaction writes nothing and no event is emitted.
func (r *Repository) Cancel(ctx context.Context, id, reason string, evt outbox.Message) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, cancelBookingSQL, id, reason)
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := platformpg.InsertOutboxTx(ctx, tx, evt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cancel tx: %w", err)
	}
	return true, nil
}
