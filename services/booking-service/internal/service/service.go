package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/booking-service/internal/domain"
)

// BookingService owns the booking state machine. It writes state and saga
// events atomically through the repository and never publishes directly.
type BookingService struct {
	repo domain.Repository
	lg   zerolog.Logger
}

func New(repo domain.Repository, lg zerolog.Logger) *BookingService {
	return &BookingService{repo: repo, lg: lg.With().Str("component", "booking_service").Logger()}
}

type CreateInput struct {
	UserID string
	RoomID string
	Amount int64
}

// Create opens a new saga: the booking row starts PENDING and the
// BookingCreated event is captured in the same transaction.
func (s *BookingService) Create(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	now := time.Now().UTC()
	b := &domain.Booking{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		RoomID:        in.RoomID,
		Amount:        in.Amount,
		Status:        domain.StatusPending,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	evt, err := outbox.NewMessage(event.BookingCreatedName, b.CorrelationID, event.BookingCreated{
		BookingID: b.ID,
		UserID:    b.UserID,
		RoomID:    b.RoomID,
		Amount:    b.Amount,
	})
	if err != nil {
		return nil, apperr.NewInternal("build booking created event", err)
	}

	if err := s.repo.Create(ctx, b, evt); err != nil {
		return nil, apperr.NewInternal("create booking", err)
	}

	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("booking_id", b.ID).
		Str("room_id", b.RoomID).
		Int64("amount", b.Amount).
		Str("correlation_id", b.CorrelationID).
		Msg("booking created")
	return b, nil
}

// Get returns a booking to its owner. Admin callers see every booking.
func (s *BookingService) Get(ctx context.Context, id, userID string, isAdmin bool) (*domain.Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperr.NewNotFound("booking not found")
	}
	if err != nil {
		return nil, apperr.NewInternal("get booking", err)
	}
	if b.UserID != userID && !isAdmin {
		return nil, apperr.NewForbidden("booking belongs to another user")
	}
	return b, nil
}
