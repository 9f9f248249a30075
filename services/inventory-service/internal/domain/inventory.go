package domain

import (
	"context"
	"errors"
	"time"
)

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Active reports whether the reservation still holds stock that a release
// would have to give back.
func (s ReservationStatus) Active() bool {
	return s == ReservationReserved
}

// Release reasons written to reservations and carried on InventoryReleased.
const (
	ReleaseReasonPaymentFailed = "Payment failed"
	ReleaseReasonExpired       = "Reservation expired"
)

var (
	ErrItemNotFound        = errors.New("inventory item not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrTotalBelowReserved  = errors.New("total below reserved quantity")
	ErrCacheMiss           = errors.New("cache miss")
)

// Item is one bookable stock line keyed by its business id (e.g. ROOM-101).
// Available and Reserved always sum to Total; the reservation path is the
// only writer of the quantity columns.
type Item struct {
	ItemID    string
	Name      string
	Total     int
	Available int
	Reserved  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation holds stock for one booking. BookingID is unique; that
// uniqueness is what makes duplicate BookingCreated deliveries harmless.
type Reservation struct {
	ID            string
	BookingID     string
	ItemID        string
	Quantity      int
	Amount        int64
	Status        ReservationStatus
	CorrelationID string
	ExpiresAt     time.Time
	ConfirmedAt   *time.Time
	ReleasedAt    *time.Time
	ReleaseReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReserveCommand asks for stock to be held for a booking. Amount rides along
// so the reserved event can carry the charge for the payment step.
type ReserveCommand struct {
	BookingID     string
	ItemID        string
	Quantity      int
	Amount        int64
	CorrelationID string
}

// ReserveResult reports what a reserve call did. Exactly one of three shapes
// comes back: a fresh reservation, an existing one returned unchanged, or a
// business rejection whose failure event is already committed.
type ReserveResult struct {
	Reservation *Reservation
	Existing    bool
	Rejected    bool
	Reason      string
}

// Repository is the reservation engine. Every mutation runs in one local
// transaction that also captures its saga event, and the item row is always
// locked before any reservation row to keep lock acquisition in one global
// order.
type Repository interface {
	UpsertItem(ctx context.Context, itemID, name string, total int) (*Item, error)
	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)

	Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error)
	Release(ctx context.Context, bookingID, reason string) (bool, error)
	Confirm(ctx context.Context, bookingID string) (bool, error)
	GetReservation(ctx context.Context, bookingID string) (*Reservation, error)

	ExpireDue(ctx context.Context, limit int) (int, error)
}
