package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
)

// defaultMethod is used when the caller does not name a payment method,
// which is always the case for consumer-driven charges.
const defaultMethod = "CREDIT_CARD"

// PaymentService executes the charge leg of the saga. A booking is charged
// at most once by this layer; only the manual retry endpoint re-executes a
// failed charge.
type PaymentService struct {
	repo       domain.Repository
	gateway    domain.Gateway
	maxRetries int
	lg         zerolog.Logger
}

func New(repo domain.Repository, gw domain.Gateway, maxRetries int, lg zerolog.Logger) *PaymentService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &PaymentService{
		repo:       repo,
		gateway:    gw,
		maxRetries: maxRetries,
		lg:         lg.With().Str("component", "payment_service").Logger(),
	}
}

type ProcessInput struct {
	BookingID string
	Amount    int64
	Method    string
}

// Process charges a booking. An existing payment in any settled state is
// returned unchanged; only a PENDING leftover from a crashed attempt is
// resumed, under the same payment id as idempotency key.
func (s *PaymentService) Process(ctx context.Context, in ProcessInput) (*domain.Payment, error) {
	correlationID := reqctx.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return s.process(ctx, in, correlationID)
}

func (s *PaymentService) process(ctx context.Context, in ProcessInput, correlationID string) (*domain.Payment, error) {
	method := in.Method
	if method == "" {
		method = defaultMethod
	}

	existing, err := s.repo.FindByBookingID(ctx, in.BookingID)
	switch {
	case err == nil:
		if existing.Status != domain.PaymentPending {
			lg := logger.WithCtx(ctx)
			lg.Debug().
				Str("booking_id", in.BookingID).
				Str("status", string(existing.Status)).
				Msg("payment already processed")
			return existing, nil
		}
		return s.charge(ctx, existing)
	case errors.Is(err, domain.ErrPaymentNotFound):
		// First sight of this booking.
	default:
		return nil, apperr.NewTransient("find payment", err)
	}

	p := &domain.Payment{
		ID:            uuid.NewString(),
		BookingID:     in.BookingID,
		Amount:        in.Amount,
		Method:        method,
		Status:        domain.PaymentPending,
		CorrelationID: correlationID,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicateBooking) {
			// Lost the insert race; the winner's record is authoritative.
			winner, err := s.repo.FindByBookingID(ctx, in.BookingID)
			if err != nil {
				return nil, apperr.NewTransient("find winning payment", err)
			}
			return winner, nil
		}
		return nil, apperr.NewTransient("create payment", err)
	}
	return s.charge(ctx, p)
}

// charge runs the external effect and records the outcome together with its
// saga event. A decline is a business outcome; only gateway infrastructure
// failures surface as errors.
func (s *PaymentService) charge(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	result, err := s.gateway.Charge(ctx, domain.ChargeRequest{
		PaymentID: p.ID,
		BookingID: p.BookingID,
		Amount:    p.Amount,
		Method:    p.Method,
	})
	if err != nil {
		return nil, apperr.NewTransient("charge payment", err)
	}

	var msg outbox.Message
	if result.Succeeded {
		p.Status = domain.PaymentSuccess
		p.TransactionID = result.TransactionID
		p.ErrorMessage = ""
		msg, err = outbox.NewMessage(event.PaymentSucceededName, p.CorrelationID, event.PaymentSucceeded{
			BookingID:     p.BookingID,
			PaymentID:     p.ID,
			TransactionID: p.TransactionID,
			Amount:        p.Amount,
		})
	} else {
		p.Status = domain.PaymentFailed
		p.TransactionID = ""
		p.ErrorMessage = result.Reason
		msg, err = outbox.NewMessage(event.PaymentFailedName, p.CorrelationID, event.PaymentFailed{
			BookingID: p.BookingID,
			PaymentID: p.ID,
			Reason:    result.Reason,
		})
	}
	if err != nil {
		return nil, apperr.NewInternal("build payment event", err)
	}

	now := time.Now().UTC()
	p.ProcessedAt = &now
	if err := s.repo.RecordOutcome(ctx, p, msg); err != nil {
		return nil, apperr.NewTransient("record payment outcome", err)
	}

	lg := logger.WithCtx(ctx).With().
		Str("booking_id", p.BookingID).
		Str("payment_id", p.ID).
		Logger()
	if result.Succeeded {
		lg.Info().Str("transaction_id", p.TransactionID).Msg("payment succeeded")
	} else {
		lg.Info().Str("reason", p.ErrorMessage).Msg("payment declined")
	}
	return p, nil
}

type RetryInput struct {
	BookingID string
	Method    string
}

// Retry re-executes a FAILED payment's charge. The attempt budget is bounded;
// the exhausting call parks the payment terminally with a dead-letter record
// and still reports success to the caller.
func (s *PaymentService) Retry(ctx context.Context, in RetryInput) (*domain.Payment, error) {
	p, err := s.repo.FindByBookingID(ctx, in.BookingID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, apperr.NewNotFound("payment not found")
	}
	if err != nil {
		return nil, apperr.NewInternal("find payment", err)
	}

	switch p.Status {
	case domain.PaymentSuccess:
		return nil, apperr.NewBusinessRule("payment already succeeded")
	case domain.PaymentPermanentlyFailed:
		return p, nil
	case domain.PaymentPending:
		return nil, apperr.NewBusinessRule("payment is still being processed")
	}

	if p.RetryCount >= s.maxRetries {
		return s.exhaust(ctx, p)
	}

	p, err = s.repo.MarkRetry(ctx, in.BookingID, in.Method)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, apperr.NewBusinessRule("payment is no longer retryable")
	}
	if err != nil {
		return nil, apperr.NewTransient("mark payment retry", err)
	}

	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("booking_id", p.BookingID).
		Int("retry_count", p.RetryCount).
		Msg("retrying payment")
	return s.charge(ctx, p)
}

// exhaust parks a retry-exhausted payment. The dead-letter payload is a
// snapshot of the payment so operators can settle it out of band.
func (s *PaymentService) exhaust(ctx context.Context, p *domain.Payment) (*domain.Payment, error) {
	lastReason := p.ErrorMessage
	p.Status = domain.PaymentPermanentlyFailed
	p.ErrorMessage = fmt.Sprintf("retries exhausted after %d attempts; parked in dead letter queue", p.RetryCount)

	snapshot, err := json.Marshal(event.PaymentRetryFailed{
		BookingID:  p.BookingID,
		PaymentID:  p.ID,
		RetryCount: p.RetryCount,
		Reason:     lastReason,
	})
	if err != nil {
		return nil, apperr.NewInternal("marshal payment snapshot", err)
	}

	dl := &deadletter.Message{
		SourceQueue:  "payment_retry",
		EventType:    event.PaymentRetryFailedName,
		Payload:      snapshot,
		ErrorMessage: lastReason,
		AttemptCount: p.RetryCount,
	}
	if err := s.repo.MarkPermanentlyFailed(ctx, p, dl); err != nil {
		return nil, apperr.NewTransient("park exhausted payment", err)
	}

	lg := logger.WithCtx(ctx)
	lg.Warn().
		Str("booking_id", p.BookingID).
		Str("payment_id", p.ID).
		Int("retry_count", p.RetryCount).
		Msg("payment permanently failed")
	return p, nil
}

// Get returns the payment for a booking.
func (s *PaymentService) Get(ctx context.Context, bookingID string) (*domain.Payment, error) {
	p, err := s.repo.FindByBookingID(ctx, bookingID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, apperr.NewNotFound("payment not found")
	}
	if err != nil {
		return nil, apperr.NewInternal("find payment", err)
	}
	return p, nil
}
