package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
)

// declineReasons are the provider-side rejections the simulation cycles
// through. They surface as the payment's errorMessage and travel in the
// PaymentFailed event.
var declineReasons = []string{
	"insufficient_funds",
	"card_declined",
	"expired_card",
	"fraud_detected",
}

// Simulated stands in for the external payment provider. Each charge
// succeeds with the configured probability; everything else is a decline,
// never an error.
type Simulated struct {
	ratio float64
	delay time.Duration
}

func NewSimulated(successRatio float64, delay time.Duration) *Simulated {
	if successRatio < 0 {
		successRatio = 0
	}
	if successRatio > 1 {
		successRatio = 1
	}
	return &Simulated{ratio: successRatio, delay: delay}
}

func (g *Simulated) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.ChargeResult{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}

	if rand.Float64() < g.ratio {
		return domain.ChargeResult{
			Succeeded:     true,
			TransactionID: fmt.Sprintf("txn_%s", uuid.NewString()[:8]),
		}, nil
	}
	return domain.ChargeResult{
		Reason: declineReasons[rand.Intn(len(declineReasons))],
	}, nil
}
