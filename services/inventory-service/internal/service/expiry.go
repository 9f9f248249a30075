package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

// ExpiryWorker sweeps overdue holds back into the available pool. Every
// expiry runs through the same transactional release path as compensation,
// so a sweep racing a confirm or release loses cleanly.
type ExpiryWorker struct {
	repo     domain.Repository
	interval time.Duration
	batch    int
	lg       zerolog.Logger
}

func NewExpiryWorker(repo domain.Repository, interval time.Duration, batch int, lg zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		repo:     repo,
		interval: interval,
		batch:    batch,
		lg:       lg.With().Str("component", "expiry_worker").Logger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.lg.Info().Msg("expiry worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	expired, err := w.repo.ExpireDue(ctx, w.batch)
	if err != nil {
		w.lg.Warn().Err(err).Int("expired", expired).Msg("expiry sweep failed")
		return
	}
	if expired > 0 {
		w.lg.Info().Int("expired", expired).Msg("expired reservations released")
	}
}
