package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/metrics"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/retry"
)

// HandlerFunc processes one decoded envelope. A nil return acknowledges the
// delivery. Transient errors are requeued with backoff until the budget runs
// out; permanent errors go straight to the dead-letter queue. Business
// outcomes such as "insufficient stock" are not errors: handlers record them
// and return nil.
type HandlerFunc func(ctx context.Context, env event.RawEnvelope) error

// ConsumerConfig tunes one queue consumer. MaxRequeue bounds how many times
// a failing delivery is put back before it is dead-lettered. HandlerTimeout
// caps a single handler invocation; with prefetch 1 a hung handler would
// otherwise stall the queue.
type ConsumerConfig struct {
	URL            string
	Queue          string
	Tag            string
	ConnectRetry   retry.Config
	PublishTimeout time.Duration
	HandlerTimeout time.Duration
	MaxRequeue     int
	RetryBackoff   retry.Config
}

func (c ConsumerConfig) maxRequeue() int {
	if c.MaxRequeue <= 0 {
		return 3
	}
	return c.MaxRequeue
}

func (c ConsumerConfig) handlerTimeout() time.Duration {
	if c.HandlerTimeout <= 0 {
		return defaultHandlerTimeout
	}
	return c.HandlerTimeout
}

// attemptState tracks handler failures for one event id across redeliveries.
// Delivery tags cannot key this: the broker assigns a fresh tag on every
// redelivery.
type attemptState struct {
	count int
	first time.Time
}

// maxTrackedAttempts bounds the attempt map. Exceeding it resets all
// counters, which only grants stuck messages a fresh retry budget.
const maxTrackedAttempts = 10000

// dlqPublisher is the consumer's view of its publish channel.
type dlqPublisher interface {
	publish(ctx context.Context, exchange, key string, pub amqp.Publishing) error
}

// Consumer owns one queue: its own connection, a consume channel with
// prefetch 1, and a confirm-mode publish channel for dead-letter traffic.
// A supervisor goroutine redials for as long as the consumer runs.
type Consumer struct {
	cfg     ConsumerConfig
	handler HandlerFunc
	lg      zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	conn       *amqp.Connection
	chConsume  *amqp.Channel
	chPublish  *amqp.Channel
	deliveries <-chan amqp.Delivery
	pub        dlqPublisher

	attempts map[string]attemptState
}

func NewConsumer(cfg ConsumerConfig, handler HandlerFunc, lg zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		handler:  handler,
		lg:       lg.With().Str("component", "consumer").Str("queue", cfg.Queue).Logger(),
		attempts: make(map[string]attemptState),
	}
}

// Start connects under the startup retry budget and launches the consume
// loop. It fails when the broker never comes up or the topology clashes.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.running = true
	c.mu.Unlock()

	if err := withConnectRetry(ctx, c.cfg.ConnectRetry, c.lg, c.connectAndDeclare); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("start consumer %s: %w", c.cfg.Queue, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	c.lg.Info().Msg("consumer started")
	return nil
}

// Stop cancels the consume loop and waits for it to finish. In-flight
// deliveries that were not acked are redelivered by the broker.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.doneCh
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.lg.Info().Msg("consumer stopped")
}

func (c *Consumer) connectAndDeclare() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	chConsume, err := conn.Channel()
	if err != nil {
		closeQuietly(conn)
		return fmt.Errorf("open consume channel: %w", err)
	}
	chPublish, err := conn.Channel()
	if err != nil {
		closeQuietly(conn, chConsume)
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := DeclareTopology(chConsume); err != nil {
		closeQuietly(conn, chConsume, chPublish)
		return err
	}
	// One unacked delivery at a time; retries must not starve the queue for
	// other consumers of the same service.
	if err := chConsume.Qos(1, 0, false); err != nil {
		closeQuietly(conn, chConsume, chPublish)
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := chConsume.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		closeQuietly(conn, chConsume, chPublish)
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	pub, err := newConfirmPublisher(chPublish, c.cfg.publishTimeout(), c.lg)
	if err != nil {
		closeQuietly(conn, chConsume, chPublish)
		return err
	}

	c.conn, c.chConsume, c.chPublish = conn, chConsume, chPublish
	c.deliveries, c.pub = deliveries, pub
	return nil
}

func (c ConsumerConfig) publishTimeout() time.Duration {
	if c.PublishTimeout <= 0 {
		return defaultPublishTimeout
	}
	return c.PublishTimeout
}

func (c *Consumer) closeConn() {
	closeQuietly(c.conn, c.chConsume, c.chPublish)
	c.conn, c.chConsume, c.chPublish = nil, nil, nil
	c.deliveries, c.pub = nil, nil
}

// run consumes until ctx is done. When the broker drops the connection the
// deliveries channel closes and the loop redials with backoff, forever.
func (c *Consumer) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.closeConn()

	for {
		err := c.consumeLoop(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.lg.Warn().Err(err).Msg("consume loop ended")
		c.closeConn()
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) reconnect(ctx context.Context) bool {
	backoff := c.cfg.ConnectRetry.BaseDelay
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		if !sleepOrDone(ctx, backoff) {
			return false
		}
		err := c.connectAndDeclare()
		if err == nil {
			metrics.RecordBrokerReconnect()
			c.lg.Info().Msg("consumer reconnected")
			return true
		}
		if isPreconditionFailed(err) {
			c.lg.Error().Err(err).Msg("topology mismatch, consumer giving up")
			return false
		}
		c.lg.Warn().Err(err).Dur("backoff", backoff).Msg("reconnect failed")
		if backoff *= 2; backoff > c.cfg.ConnectRetry.MaxDelay && c.cfg.ConnectRetry.MaxDelay > 0 {
			backoff = c.cfg.ConnectRetry.MaxDelay
		}
	}
}

// handleDelivery invokes the handler exactly once for this delivery and then
// settles it: ack on success, dead-letter on poison or exhausted retries,
// requeue with backoff otherwise.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	env, err := event.DecodeRaw(d.Body)
	if err != nil {
		c.lg.Error().Err(err).Msg("poison message")
		c.deadLetter(ctx, d, attemptState{}, err)
		return
	}

	key := env.EventID
	state := c.attempts[key]

	dctx := reqctx.WithCorrelationID(ctx, env.CorrelationID)
	lg := c.lg.With().
		Str("event", env.EventName).
		Str("event_id", env.EventID).
		Str("correlation_id", env.CorrelationID).
		Logger()

	// The deadline covers only the handler; settling the delivery must still
	// work after a timeout.
	hctx, hcancel := context.WithTimeout(dctx, c.cfg.handlerTimeout())
	start := time.Now()
	err = c.handler(hctx, env)
	hcancel()
	metrics.ObserveHandler(c.cfg.Queue, time.Since(start))

	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			lg.Error().Err(ackErr).Msg("ack failed")
			return
		}
		delete(c.attempts, key)
		metrics.RecordConsumed(c.cfg.Queue, metrics.OutcomeOK)
		return
	}

	if !apperr.IsTransient(err) {
		lg.Error().Err(err).Msg("permanent handler failure")
		c.deadLetter(dctx, d, state, err)
		delete(c.attempts, key)
		return
	}

	state.count++
	if state.first.IsZero() {
		state.first = time.Now().UTC()
	}
	if state.count > c.cfg.maxRequeue() {
		lg.Error().Err(err).Int("attempts", state.count).Msg("retry budget exhausted")
		c.deadLetter(dctx, d, state, err)
		delete(c.attempts, key)
		return
	}
	c.trackAttempt(key, state)

	delay := c.cfg.RetryBackoff.Delay(state.count - 1)
	lg.Warn().Err(err).Int("attempt", state.count).Dur("backoff", delay).Msg("handler failed, requeueing")
	if !sleepOrDone(dctx, delay) {
		// Shutting down; the unacked delivery goes back to the queue when
		// the channel closes.
		return
	}
	if nackErr := d.Nack(false, true); nackErr != nil {
		lg.Error().Err(nackErr).Msg("nack failed")
		return
	}
	metrics.RecordConsumed(c.cfg.Queue, metrics.OutcomeRetried)
}

// deadLetter copies the delivery to the queue's DLQ with failure headers and
// acks the original. A failed DLQ publish requeues the delivery instead so
// nothing is lost.
func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery, state attemptState, cause error) {
	first := state.first
	if first.IsZero() {
		first = time.Now().UTC()
	}
	dlq := event.DLQName(c.cfg.Queue)
	pub := amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Body:          d.Body,
		Headers: amqp.Table{
			"x-original-queue": c.cfg.Queue,
			"x-retry-count":    int32(state.count),
			"x-error-message":  truncateString(cause.Error(), 512),
			"x-first-attempt":  first.Format(time.RFC3339Nano),
			"x-failed-at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	if err := c.pub.publish(ctx, "", dlq, pub); err != nil {
		c.lg.Error().Err(err).Str("dlq", dlq).Msg("dead-letter publish failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		c.lg.Error().Err(err).Msg("ack after dead-letter failed")
		return
	}
	metrics.RecordConsumed(c.cfg.Queue, metrics.OutcomeDeadLettered)
}

func (c *Consumer) trackAttempt(key string, st attemptState) {
	if len(c.attempts) >= maxTrackedAttempts {
		c.lg.Warn().Int("size", len(c.attempts)).Msg("attempt counters reset")
		c.attempts = make(map[string]attemptState)
	}
	c.attempts[key] = st
}

// Registration pairs a queue with its handler. Services list their
// registrations explicitly; dispatch never relies on reflection.
type Registration struct {
	Queue   string
	Handler HandlerFunc
}

// Group is a set of consumers started and stopped together.
type Group struct {
	consumers []*Consumer
}

// StartConsumers builds one consumer per registration from the shared
// config and starts them all, tearing down on the first failure.
func StartConsumers(ctx context.Context, base ConsumerConfig, regs []Registration, lg zerolog.Logger) (*Group, error) {
	g := &Group{}
	for _, reg := range regs {
		cfg := base
		cfg.Queue = reg.Queue
		cfg.Tag = base.Tag + "." + reg.Queue
		consumer := NewConsumer(cfg, reg.Handler, lg)
		if err := consumer.Start(ctx); err != nil {
			g.Stop()
			return nil, err
		}
		g.consumers = append(g.consumers, consumer)
	}
	return g, nil
}

func (g *Group) Stop() {
	for _, c := range g.consumers {
		c.Stop()
	}
}
