package service

import (
	"context"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/rabbitmq"
)

// Registrations lists the queues this service consumes and their handlers.
// Payment follows a successful reservation, never the raw booking, so the
// charge cannot land before stock is held.
func (s *PaymentService) Registrations() []rabbitmq.Registration {
	return []rabbitmq.Registration{
		{Queue: event.QueueInventoryReserved, Handler: s.HandleInventoryReserved},
	}
}

// HandleInventoryReserved charges the booking that just secured its stock.
// Redeliveries find the existing payment and ack without a second charge.
func (s *PaymentService) HandleInventoryReserved(ctx context.Context, env event.RawEnvelope) error {
	data, err := event.DecodeData[event.InventoryReserved](env)
	if err != nil {
		return apperr.NewPoisonMessage("inventory reserved payload", err)
	}

	_, err = s.process(ctx, ProcessInput{
		BookingID: data.BookingID,
		Amount:    data.Amount,
	}, env.CorrelationID)
	return err
}
