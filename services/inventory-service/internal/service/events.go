package service

import (
	"context"
	"errors"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/rabbitmq"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

// Registrations lists the queues this service consumes and their handlers.
func (s *InventoryService) Registrations() []rabbitmq.Registration {
	return []rabbitmq.Registration{
		{Queue: event.QueueBookingCreated, Handler: s.HandleBookingCreated},
		{Queue: event.QueuePaymentSucceededInventory, Handler: s.HandlePaymentSucceeded},
		{Queue: event.QueuePaymentFailedInventory, Handler: s.HandlePaymentFailed},
	}
}

// HandleBookingCreated drives the forward leg: hold one unit of the booked
// room. Both outcomes commit their own event, so the delivery is acked either
// way; only infrastructure failures retry.
func (s *InventoryService) HandleBookingCreated(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.BookingCreated](env)
	if err != nil {
		return apperr.NewPoisonMessage("booking created payload", err)
	}

	_, err = s.reserve(ctx, domain.ReserveCommand{
		BookingID:     data.BookingID,
		ItemID:        data.RoomID,
		Quantity:      1,
		Amount:        data.Amount,
		CorrelationID: env.CorrelationID,
	})
	return err
}

// HandlePaymentSucceeded pins the hold: RESERVED becomes CONFIRMED and the
// stock stays consumed.
func (s *InventoryService) HandlePaymentSucceeded(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.PaymentSucceeded](env)
	if err != nil {
		return apperr.NewPoisonMessage("payment succeeded payload", err)
	}
	lg := logger.WithCtx(ctx).With().Str("booking_id", data.BookingID).Logger()

	applied, err := s.repo.Confirm(ctx, data.BookingID)
	if err != nil {
		return apperr.NewTransient("confirm reservation", err)
	}
	if applied {
		lg.Info().Msg("reservation confirmed")
		return nil
	}

	res, err := s.repo.GetReservation(ctx, data.BookingID)
	if errors.Is(err, domain.ErrReservationNotFound) {
		lg.Warn().Msg("payment succeeded for unknown reservation")
		return nil
	}
	if err != nil {
		return apperr.NewTransient("get reservation", err)
	}
	switch res.Status {
	case domain.ReservationConfirmed:
		lg.Debug().Msg("reservation already confirmed")
	case domain.ReservationReleased, domain.ReservationExpired:
		// The charge landed after the hold was given back. Stock and money
		// now disagree; operators reconcile from this record.
		lg.Error().
			Str("reservation_status", string(res.Status)).
			Str("release_reason", res.ReleaseReason).
			Msg("payment succeeded after reservation was released")
	}
	return nil
}

// HandlePaymentFailed is the compensation leg: give the held stock back.
func (s *InventoryService) HandlePaymentFailed(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.PaymentFailed](env)
	if err != nil {
		return apperr.NewPoisonMessage("payment failed payload", err)
	}
	lg := logger.WithCtx(ctx).With().Str("booking_id", data.BookingID).Logger()

	applied, err := s.release(ctx, data.BookingID, domain.ReleaseReasonPaymentFailed)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	res, err := s.repo.GetReservation(ctx, data.BookingID)
	if errors.Is(err, domain.ErrReservationNotFound) {
		// Payment failed for a booking whose reservation never existed, for
		// example after a rejected reserve. Nothing to give back.
		lg.Warn().Msg("payment failed for unknown reservation")
		return nil
	}
	if err != nil {
		return apperr.NewTransient("get reservation", err)
	}
	lg.Debug().Str("reservation_status", string(res.Status)).Msg("release skipped, reservation not held")
	return nil
}
