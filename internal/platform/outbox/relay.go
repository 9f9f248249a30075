package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/metrics"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/retry"
)

// Config tunes the relay. MaxRetries caps publish attempts per message
// before it is spilled to the dead-letter store.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	Backoff      retry.Config
}

// storeOpTimeout bounds each store call. The relay must keep ticking even
// when the database hangs; a cancelled claim just leaves rows for the next
// tick.
const storeOpTimeout = 30 * time.Second

// Relay drains the outbox: it claims due messages, publishes each one with
// confirms, and records the outcome. Broker downtime only delays delivery;
// rows stay claimed-and-due until they are published or exhausted.
type Relay struct {
	store Store
	pub   Publisher
	cfg   Config
	lg    zerolog.Logger
}

func NewRelay(store Store, pub Publisher, cfg Config, lg zerolog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Relay{store: store, pub: pub, cfg: cfg, lg: lg.With().Str("component", "outbox_relay").Logger()}
}

// Run polls until ctx is done. Tick spacing gets up to 10% jitter so relays
// started together do not claim in lockstep.
func (r *Relay) Run(ctx context.Context) {
	r.lg.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("outbox relay started")

	timer := time.NewTimer(r.nextTick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.lg.Info().Msg("outbox relay stopped")
			return
		case <-timer.C:
		}
		r.DrainOnce(ctx)
		timer.Reset(r.nextTick())
	}
}

func (r *Relay) nextTick() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(r.cfg.PollInterval/10) + 1))
	return r.cfg.PollInterval + jitter
}

// DrainOnce claims one batch and walks it in creation order. Each message is
// published and marked individually so one bad message cannot hold back the
// rest of the batch.
func (r *Relay) DrainOnce(ctx context.Context) {
	claimCtx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	msgs, err := r.store.Claim(claimCtx, r.cfg.BatchSize)
	cancel()
	if err != nil {
		r.lg.Error().Err(err).Msg("claim outbox batch")
		return
	}
	if len(msgs) == 0 {
		return
	}
	r.lg.Debug().Int("count", len(msgs)).Msg("claimed outbox batch")

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		r.relayOne(ctx, msg)
	}
}

func (r *Relay) relayOne(ctx context.Context, msg Message) {
	err := r.pub.PublishEvent(ctx, msg.RoutingKey, msg.Payload, msg.CorrelationID, msg.EventID)
	if err == nil {
		if markErr := r.markPublished(ctx, msg.ID); markErr != nil {
			// The message went out but the row still says unpublished; the
			// next tick republishes and consumers dedupe on eventId.
			r.lg.Error().Err(markErr).Str("event_id", msg.EventID).Msg("mark outbox published")
			return
		}
		metrics.RecordOutboxPublished(msg.EventName)
		r.lg.Debug().
			Str("event", msg.EventName).
			Str("event_id", msg.EventID).
			Str("correlation_id", msg.CorrelationID).
			Msg("outbox message published")
		return
	}

	attempts := msg.RetryCount + 1
	if attempts >= r.cfg.MaxRetries {
		if spillErr := r.spill(ctx, msg, err.Error()); spillErr != nil {
			r.lg.Error().Err(spillErr).Str("event_id", msg.EventID).Msg("spill outbox message")
			return
		}
		metrics.RecordOutboxSpilled(msg.EventName)
		r.lg.Warn().
			Err(err).
			Str("event", msg.EventName).
			Str("event_id", msg.EventID).
			Int("attempts", attempts).
			Msg("outbox message dead-lettered")
		return
	}

	next := time.Now().UTC().Add(r.cfg.Backoff.Delay(attempts - 1))
	if markErr := r.markFailed(ctx, msg.ID, next, err.Error()); markErr != nil {
		r.lg.Error().Err(markErr).Str("event_id", msg.EventID).Msg("mark outbox failed")
		return
	}
	r.lg.Warn().
		Err(err).
		Str("event", msg.EventName).
		Str("event_id", msg.EventID).
		Int("attempt", attempts).
		Time("next_attempt_at", next).
		Msg("outbox publish failed, will retry")
}

func (r *Relay) markPublished(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	return r.store.MarkPublished(cctx, id)
}

func (r *Relay) spill(ctx context.Context, msg Message, reason string) error {
	cctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	return r.store.Spill(cctx, msg, reason)
}

func (r *Relay) markFailed(ctx context.Context, id string, next time.Time, reason string) error {
	cctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	return r.store.MarkFailed(cctx, id, next, reason)
}
