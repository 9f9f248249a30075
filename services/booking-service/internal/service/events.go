package service

import (
	"context"
	"errors"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/rabbitmq"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/booking-service/internal/domain"
)

// Registrations lists the queues this service consumes and their handlers.
func (s *BookingService) Registrations() []rabbitmq.Registration {
	return []rabbitmq.Registration{
		{Queue: event.QueueInventoryReservationFailed, Handler: s.HandleInventoryReservationFailed},
		{Queue: event.QueuePaymentSucceededBooking, Handler: s.HandlePaymentSucceeded},
		{Queue: event.QueuePaymentFailedBooking, Handler: s.HandlePaymentFailed},
	}
}

// HandleInventoryReservationFailed cancels the booking; the saga never got
// past inventory so there is nothing else to compensate.
func (s *BookingService) HandleInventoryReservationFailed(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.InventoryReservationFailed](env)
	if err != nil {
		return apperr.NewPoisonMessage("inventory reservation failed payload", err)
	}
	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("booking_id", data.BookingID).
		Str("item_id", data.ItemID).
		Str("failure_reason", data.Reason).
		Msg("inventory reservation failed, cancelling booking")
	return s.cancel(ctx, data.BookingID, domain.ReasonInventoryFailure)
}

// HandlePaymentSucceeded confirms a PENDING booking. Redeliveries and late
// arrivals on terminal rows acknowledge without side effects.
func (s *BookingService) HandlePaymentSucceeded(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.PaymentSucceeded](env)
	if err != nil {
		return apperr.NewPoisonMessage("payment succeeded payload", err)
	}
	lg := logger.WithCtx(ctx).With().Str("booking_id", data.BookingID).Logger()

	applied, err := s.repo.Confirm(ctx, data.BookingID)
	if err != nil {
		return apperr.NewTransient("confirm booking", err)
	}
	if applied {
		lg.Info().Str("transaction_id", data.TransactionID).Msg("booking confirmed")
		return nil
	}

	b, err := s.repo.Get(ctx, data.BookingID)
	if errors.Is(err, domain.ErrNotFound) {
		lg.Warn().Msg("payment succeeded for unknown booking")
		return nil
	}
	if err != nil {
		return apperr.NewTransient("get booking", err)
	}
	switch b.Status {
	case domain.StatusConfirmed:
		lg.Debug().Msg("booking already confirmed")
	case domain.StatusCancelled:
		lg.Warn().Msg("payment succeeded for cancelled booking")
	}
	return nil
}

// HandlePaymentFailed cancels the booking with the client-visible reason.
func (s *BookingService) HandlePaymentFailed(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.PaymentFailed](env)
	if err != nil {
		return apperr.NewPoisonMessage("payment failed payload", err)
	}
	lg := logger.WithCtx(ctx)
	lg.Info().
		Str("booking_id", data.BookingID).
		Str("failure_reason", data.Reason).
		Msg("payment failed, cancelling booking")
	return s.cancel(ctx, data.BookingID, domain.ReasonPaymentFailed)
}

// cancel applies PENDING to CANCELLED and emits BookingCancelled with the
// row change. Terminal rows are logged and acknowledged.
func (s *BookingService) cancel(ctx context.Context, bookingID, reason string) error {
	evt, err := outbox.NewMessage(event.BookingCancelledName, reqctx.CorrelationID(ctx), event.BookingCancelled{
		BookingID: bookingID,
		Reason:    reason,
	})
	if err != nil {
		return apperr.NewInternal("build booking cancelled event", err)
	}

	lg := logger.WithCtx(ctx).With().Str("booking_id", bookingID).Logger()

	applied, err := s.repo.Cancel(ctx, bookingID, reason, evt)
	if err != nil {
		return apperr.NewTransient("cancel booking", err)
	}
	if applied {
		lg.Info().Str("reason", reason).Msg("booking cancelled")
		return nil
	}

	b, err := s.repo.Get(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		lg.Warn().Msg("cancellation for unknown booking")
		return nil
	}
	if err != nil {
		return apperr.NewTransient("get booking", err)
	}
	switch b.Status {
	case domain.StatusCancelled:
		lg.Debug().Msg("booking already cancelled")
	case domain.StatusConfirmed:
		// Conflicting saga outcome; the booking stays confirmed and the
		// conflict is surfaced for operators.
		lg.Error().Str("attempted_reason", reason).Msg("cancellation arrived after confirmation")
	}
	return nil
}
