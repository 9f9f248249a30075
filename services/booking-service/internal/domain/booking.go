package domain

import (
	"context"
	"errors"
	"time"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Cancellation reasons surfaced to clients.
const (
	ReasonPaymentFailed    = "Payment failed"
	ReasonInventoryFailure = "Inventory reservation failed"
)

var ErrNotFound = errors.New("booking not found")

// Booking is the saga root. CorrelationID is minted here and travels with
// every event of this booking's saga instance.
type Booking struct {
	ID            string
	UserID        string
	RoomID        string
	Amount        int64
	Status        Status
	Reason        string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
}

// Repository persists bookings. Create and Cancel capture their outbox
// message in the same transaction as the row change; a booking can never
// exist without its BookingCreated event nor be cancelled silently.
// Confirm and Cancel apply only to PENDING rows and report whether the
// transition happened, so redeliveries fall through as no-ops.
type Repository interface {
	Create(ctx context.Context, b *Booking, evt outbox.Message) error
	Get(ctx context.Context, id string) (*Booking, error)
	Confirm(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id, reason string, evt outbox.Message) (bool, error)
}
