package domain

import (
	"context"
	"errors"
	"time"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

// PaymentStatus is the payment lifecycle. SUCCESS and PERMANENTLY_FAILED are
// terminal. FAILED is terminal for the consumer path; only the manual retry
// endpoint moves a payment out of it.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentSuccess           PaymentStatus = "SUCCESS"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentPermanentlyFailed PaymentStatus = "PERMANENTLY_FAILED"
)

// Terminal reports whether no transition can ever leave this status.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentPermanentlyFailed
}

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicateBooking = errors.New("payment already exists for booking")
)

// Payment is one charge attempt chain for a booking. Retries mutate this
// record in place; there is never more than one payment per booking.
type Payment struct {
	ID            string        `bson:"_id"`
	BookingID     string        `bson:"booking_id"`
	Amount        int64         `bson:"amount"`
	Method        string        `bson:"method"`
	Status        PaymentStatus `bson:"status"`
	TransactionID string        `bson:"transaction_id,omitempty"`
	ErrorMessage  string        `bson:"error_message,omitempty"`
	RetryCount    int           `bson:"retry_count"`
	LastRetryAt   *time.Time    `bson:"last_retry_at,omitempty"`
	CorrelationID string        `bson:"correlation_id"`
	CreatedAt     time.Time     `bson:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at"`
	ProcessedAt   *time.Time    `bson:"processed_at,omitempty"`
}

// Repository persists payments. The unique booking_id index is the arbiter
// for concurrent duplicate deliveries: Create surfaces ErrDuplicateBooking
// and the caller re-reads the winner.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	FindByBookingID(ctx context.Context, bookingID string) (*Payment, error)

	// RecordOutcome writes the charge outcome and its saga event atomically.
	RecordOutcome(ctx context.Context, p *Payment, msg outbox.Message) error

	// MarkRetry consumes one retry attempt before the charge is re-executed,
	// so a crash mid-retry never grants a free attempt.
	MarkRetry(ctx context.Context, bookingID, method string) (*Payment, error)

	// MarkPermanentlyFailed parks the retry-exhausted payment and its
	// dead-letter record atomically.
	MarkPermanentlyFailed(ctx context.Context, p *Payment, dl *deadletter.Message) error
}

// ChargeRequest goes to the payment provider. PaymentID doubles as the
// idempotency key so a re-sent charge is safe at the provider.
type ChargeRequest struct {
	PaymentID string
	BookingID string
	Amount    int64
	Method    string
}

// ChargeResult distinguishes a decline, which is a business outcome, from an
// infrastructure failure, which the gateway reports as an error.
type ChargeResult struct {
	Succeeded     bool
	TransactionID string
	Reason        string
}

// Gateway is the external payment effect.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
