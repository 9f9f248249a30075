package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
	platformpg "github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/postgres"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

// Repository is the reservation engine over pgx. Saga events are inserted
// into the outbox inside the same transaction as the quantity change.
//
// Deadlock policy: for any write touching both tables, lock in this order:
//  1. inventory_items row (FOR UPDATE)
//  2. inventory_reservations row (FOR UPDATE)
//
// Paths that start from a booking id read the reservation without a lock
// first, take the item lock, then re-check the reservation under its lock.
type Repository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewRepository(pool *pgxpool.Pool, reservationTTL time.Duration) *Repository {
	return &Repository{pool: pool, ttl: reservationTTL}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *Repository) UpsertItem(ctx context.Context, itemID, name string, total int) (*domain.Item, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var reserved int
	err = tx.QueryRow(ctx, `
		SELECT reserved_quantity FROM inventory_items WHERE item_id = $1 FOR UPDATE
	`, itemID).Scan(&reserved)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO inventory_items (item_id, name, total_quantity, available_quantity, reserved_quantity, created_at, updated_at)
			VALUES ($1, $2, $3, $3, 0, now(), now())
		`, itemID, name, total)
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("lock item: %w", err)
	default:
		// Shrinking total below what is currently held would break the
		// quantity invariant.
		if total < reserved {
			return nil, domain.ErrTotalBelowReserved
		}
		_, err = tx.Exec(ctx, `
			UPDATE inventory_items
			SET name = $2, total_quantity = $3, available_quantity = $3 - reserved_quantity, updated_at = now()
			WHERE item_id = $1
		`, itemID, name, total)
		if err != nil {
			return nil, fmt.Errorf("update item: %w", err)
		}
	}

	item, err := getItemTx(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert tx: %w", err)
	}
	return item, nil
}

const selectItemSQL = `
SELECT item_id, name, total_quantity, available_quantity, reserved_quantity, created_at, updated_at
FROM inventory_items`

func (r *Repository) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return scanItem(r.pool.QueryRow(ctx, selectItemSQL+` WHERE item_id = $1`, itemID))
}

func getItemTx(ctx context.Context, tx pgx.Tx, itemID string) (*domain.Item, error) {
	return scanItem(tx.QueryRow(ctx, selectItemSQL+` WHERE item_id = $1`, itemID))
}

func scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ItemID, &it.Name, &it.Total, &it.Available, &it.Reserved, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &it, nil
}

func (r *Repository) ListItems(ctx context.Context) ([]*domain.Item, error) {
	rows, err := r.pool.Query(ctx, selectItemSQL+` ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ItemID, &it.Name, &it.Total, &it.Available, &it.Reserved, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// Reserve holds stock for a booking. Duplicate deliveries return the
// existing reservation untouched; insufficient stock and unknown items are
// business outcomes that commit an InventoryReservationFailed event instead
// of an error.
func (r *Repository) Reserve(ctx context.Context, cmd domain.ReserveCommand) (*domain.ReserveResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Idempotency pivot: a reservation for this booking, in any status,
	// means the work already happened.
	existing, err := getReservationTx(ctx, tx, cmd.BookingID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit reserve tx: %w", err)
		}
		return &domain.ReserveResult{Reservation: existing, Existing: true}, nil
	}
	if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	// 2) Lock the item row first.
	var available int
	err = tx.QueryRow(ctx, `
		SELECT available_quantity FROM inventory_items WHERE item_id = $1 FOR UPDATE
	`, cmd.ItemID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.rejectReserve(ctx, tx, cmd, fmt.Sprintf("unknown item %s", cmd.ItemID))
	}
	if err != nil {
		return nil, fmt.Errorf("lock item: %w", err)
	}

	// 3) Availability check.
	if available < cmd.Quantity {
		return r.rejectReserve(ctx, tx, cmd,
			fmt.Sprintf("insufficient availability for %s: requested %d, available %d", cmd.ItemID, cmd.Quantity, available))
	}

	// 4) Move stock and create the hold.
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_items
		SET available_quantity = available_quantity - $2, reserved_quantity = reserved_quantity + $2, updated_at = now()
		WHERE item_id = $1
	`, cmd.ItemID, cmd.Quantity); err != nil {
		return nil, fmt.Errorf("adjust quantities: %w", err)
	}

	now := time.Now().UTC()
	res := &domain.Reservation{
		ID:            uuid.NewString(),
		BookingID:     cmd.BookingID,
		ItemID:        cmd.ItemID,
		Quantity:      cmd.Quantity,
		Amount:        cmd.Amount,
		Status:        domain.ReservationReserved,
		CorrelationID: cmd.CorrelationID,
		ExpiresAt:     now.Add(r.ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_reservations (id, booking_id, item_id, quantity, amount, status, correlation_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, res.ID, res.BookingID, res.ItemID, res.Quantity, res.Amount, string(res.Status), res.CorrelationID, res.ExpiresAt)
	if isUniqueViolation(err) {
		// Lost the race against a concurrent duplicate delivery. The rollback
		// undoes our quantity change; the winner's reservation stands.
		_ = tx.Rollback(ctx)
		winner, getErr := r.GetReservation(ctx, cmd.BookingID)
		if getErr != nil {
			return nil, getErr
		}
		return &domain.ReserveResult{Reservation: winner, Existing: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	// 5) Capture InventoryReserved with the commit.
	evt, err := outbox.NewMessage(event.InventoryReservedName, cmd.CorrelationID, event.InventoryReserved{
		ReservationID: res.ID,
		BookingID:     res.BookingID,
		ItemID:        res.ItemID,
		Quantity:      res.Quantity,
		Amount:        res.Amount,
	})
	if err != nil {
		return nil, err
	}
	if err := platformpg.InsertOutboxPgx(ctx, tx, evt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}
	return &domain.ReserveResult{Reservation: res}, nil
}

// rejectReserve commits the failure event and reports the business outcome.
// No reservation row is written.
func (r *Repository) rejectReserve(ctx context.Context, tx pgx.Tx, cmd domain.ReserveCommand, reason string) (*domain.ReserveResult, error) {
	evt, err := outbox.NewMessage(event.InventoryReservationFailedName, cmd.CorrelationID, event.InventoryReservationFailed{
		BookingID: cmd.BookingID,
		ItemID:    cmd.ItemID,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	if err := platformpg.InsertOutboxPgx(ctx, tx, evt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve rejection: %w", err)
	}
	return &domain.ReserveResult{Rejected: true, Reason: reason}, nil
}

// Release gives a booking's stock back and emits InventoryReleased. Missing
// or non-RESERVED reservations report false with no side effects.
func (r *Repository) Release(ctx context.Context, bookingID, reason string) (bool, error) {
	return r.release(ctx, bookingID, domain.ReservationReleased, reason, false)
}

func (r *Repository) release(ctx context.Context, bookingID string, target domain.ReservationStatus, reason string, onlyExpired bool) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Find the item id without locking the reservation.
	var itemID string
	err = tx.QueryRow(ctx, `
		SELECT item_id FROM inventory_reservations WHERE booking_id = $1
	`, bookingID).Scan(&itemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find reservation: %w", err)
	}

	// 2) Item lock first, then the reservation under its lock.
	if _, err := tx.Exec(ctx, `
		SELECT 1 FROM inventory_items WHERE item_id = $1 FOR UPDATE
	`, itemID); err != nil {
		return false, fmt.Errorf("lock item: %w", err)
	}

	var (
		status        string
		quantity      int
		correlationID string
		expiresAt     time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT status, quantity, correlation_id, expires_at
		FROM inventory_reservations WHERE booking_id = $1 FOR UPDATE
	`, bookingID).Scan(&status, &quantity, &correlationID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock reservation: %w", err)
	}

	// 3) Re-check under the lock. A racing release or confirm already won.
	if domain.ReservationStatus(status) != domain.ReservationReserved {
		return false, nil
	}
	if onlyExpired && expiresAt.After(time.Now().UTC()) {
		return false, nil
	}

	// 4) Terminal transition plus quantity restore.
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_reservations
		SET status = $2, released_at = now(), release_reason = $3, updated_at = now()
		WHERE booking_id = $1
	`, bookingID, string(target), reason); err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_items
		SET available_quantity = available_quantity + $2, reserved_quantity = reserved_quantity - $2, updated_at = now()
		WHERE item_id = $1
	`, itemID, quantity); err != nil {
		return false, fmt.Errorf("restore quantities: %w", err)
	}

	// 5) Audit event rides the same commit.
	evt, err := outbox.NewMessage(event.InventoryReleasedName, correlationID, event.InventoryReleased{
		BookingID: bookingID,
		ItemID:    itemID,
		Quantity:  quantity,
		Reason:    reason,
	})
	if err != nil {
		return false, err
	}
	if err := platformpg.InsertOutboxPgx(ctx, tx, evt); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit release tx: %w", err)
	}
	return true, nil
}

// Confirm marks the booking's hold as consumed. Quantities stay where the
// reserve put them.
func (r *Repository) Confirm(ctx context.Context, bookingID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE inventory_reservations
		SET status = 'CONFIRMED', confirmed_at = now(), updated_at = now()
		WHERE booking_id = $1 AND status = 'RESERVED'
	`, bookingID)
	if err != nil {
		return false, fmt.Errorf("confirm reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const selectReservationSQL = `
SELECT id, booking_id, item_id, quantity, amount, status, correlation_id, expires_at,
       confirmed_at, released_at, COALESCE(release_reason, ''), created_at, updated_at
FROM inventory_reservations`

func (r *Repository) GetReservation(ctx context.Context, bookingID string) (*domain.Reservation, error) {
	return scanReservation(r.pool.QueryRow(ctx, selectReservationSQL+` WHERE booking_id = $1`, bookingID))
}

func getReservationTx(ctx context.Context, tx pgx.Tx, bookingID string) (*domain.Reservation, error) {
	return scanReservation(tx.QueryRow(ctx, selectReservationSQL+` WHERE booking_id = $1`, bookingID))
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res         domain.Reservation
		status      string
		confirmedAt *time.Time
		releasedAt  *time.Time
	)
	err := row.Scan(&res.ID, &res.BookingID, &res.ItemID, &res.Quantity, &res.Amount, &status,
		&res.CorrelationID, &res.ExpiresAt, &confirmedAt, &releasedAt, &res.ReleaseReason,
		&res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)
	res.ConfirmedAt = confirmedAt
	res.ReleasedAt = releasedAt
	return &res, nil
}

// ExpireDue sweeps overdue RESERVED rows into EXPIRED, restoring quantities
// and emitting InventoryReleased per reservation. Candidates are read without
// locks; each expiry re-checks under the usual lock order, so a racing
// confirm or release simply wins.
func (r *Repository) ExpireDue(ctx context.Context, limit int) (int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT booking_id FROM inventory_reservations
		WHERE status = 'RESERVED' AND expires_at <= now()
		ORDER BY expires_at
		LIMIT $1
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("find due reservations: %w", err)
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due reservation: %w", err)
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, bookingID := range due {
		applied, err := r.release(ctx, bookingID, domain.ReservationExpired, domain.ReleaseReasonExpired, true)
		if err != nil {
			return expired, err
		}
		if applied {
			expired++
		}
	}
	return expired, nil
}
