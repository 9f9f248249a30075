package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
)

// DLQConsumer drains the dead-letter queues of one service into the durable
// dead-letter store where operators can inspect and resolve them. All DLQs
// share a single connection and channel; volume here is failure volume.
type DLQConsumer struct {
	cfg    ConsumerConfig
	queues []string
	store  deadletter.Store
	lg     zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewDLQConsumer drains the dead-letter queues of the given source queues.
func NewDLQConsumer(cfg ConsumerConfig, sourceQueues []string, store deadletter.Store, lg zerolog.Logger) *DLQConsumer {
	return &DLQConsumer{
		cfg:    cfg,
		queues: sourceQueues,
		store:  store,
		lg:     lg.With().Str("component", "dlq_consumer").Logger(),
	}
}

func (c *DLQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("dlq consumer already started")
	}
	c.running = true
	c.mu.Unlock()

	if err := withConnectRetry(ctx, c.cfg.ConnectRetry, c.lg, c.connect); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("start dlq consumer: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	c.lg.Info().Strs("queues", c.queues).Msg("dlq consumer started")
	return nil
}

func (c *DLQConsumer) Stop() {
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
	c.lg.Info().Msg("dlq consumer stopped")
}

func (c *DLQConsumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		closeQuietly(conn)
		return fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		closeQuietly(conn, ch)
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		closeQuietly(conn, ch)
		return fmt.Errorf("set qos: %w", err)
	}
	c.conn, c.ch = conn, ch
	return nil
}

func (c *DLQConsumer) closeConn() {
	closeQuietly(c.conn, c.ch)
	c.conn, c.ch = nil, nil
}

func (c *DLQConsumer) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.closeConn()

	for {
		err := c.consumeLoop(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.lg.Warn().Err(err).Msg("dlq consume loop ended")
		c.closeConn()
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *DLQConsumer) reconnect(ctx context.Context) bool {
	backoff := c.cfg.ConnectRetry.BaseDelay
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		if !sleepOrDone(ctx, backoff) {
			return false
		}
		if err := c.connect(); err != nil {
			if isPreconditionFailed(err) {
				c.lg.Error().Err(err).Msg("topology mismatch, dlq consumer giving up")
				return false
			}
			c.lg.Warn().Err(err).Dur("backoff", backoff).Msg("dlq reconnect failed")
			if backoff *= 2; backoff > c.cfg.ConnectRetry.MaxDelay && c.cfg.ConnectRetry.MaxDelay > 0 {
				backoff = c.cfg.ConnectRetry.MaxDelay
			}
			continue
		}
		c.lg.Info().Msg("dlq consumer reconnected")
		return true
	}
}

// consumeLoop fans the per-queue delivery streams into one channel so a
// single goroutine persists records in arrival order.
func (c *DLQConsumer) consumeLoop(ctx context.Context) error {
	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup

	for _, source := range c.queues {
		dlq := event.DLQName(source)
		deliveries, err := c.ch.Consume(dlq, c.cfg.Tag+"."+dlq, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", dlq, err)
		}
		wg.Add(1)
		go func(source string, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range deliveries {
				select {
				case merged <- d:
				case <-ctx.Done():
					return
				}
			}
		}(source, deliveries)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-merged:
			if !ok {
				return errors.New("dlq deliveries closed")
			}
			c.persist(ctx, d)
		}
	}
}

// persist writes one dead letter to the store. Store failures requeue the
// delivery after a short pause; the record must not be lost.
func (c *DLQConsumer) persist(ctx context.Context, d amqp.Delivery) {
	eventType := "unknown"
	if env, err := event.DecodeRaw(d.Body); err == nil {
		eventType = env.EventName
	}

	now := time.Now().UTC()
	msg := &deadletter.Message{
		SourceQueue:    headerString(d.Headers, "x-original-queue", ""),
		EventType:      eventType,
		Payload:        d.Body,
		ErrorMessage:   headerString(d.Headers, "x-error-message", ""),
		AttemptCount:   headerInt(d.Headers, "x-retry-count"),
		FirstAttemptAt: headerTime(d.Headers, "x-first-attempt", now),
		FailedAt:       headerTime(d.Headers, "x-failed-at", now),
	}

	if err := c.store.Save(ctx, msg); err != nil {
		c.lg.Error().Err(err).Str("source_queue", msg.SourceQueue).Msg("save dead letter failed, requeueing")
		sleepOrDone(ctx, 2*time.Second)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		c.lg.Error().Err(err).Msg("ack dead letter failed")
		return
	}
	c.lg.Warn().
		Str("source_queue", msg.SourceQueue).
		Str("event_type", msg.EventType).
		Int("attempt_count", msg.AttemptCount).
		Msg("dead letter stored")
}

func headerString(h amqp.Table, key, def string) string {
	if h == nil {
		return def
	}
	if v, ok := h[key].(string); ok && v != "" {
		return v
	}
	return def
}

// headerInt tolerates the integer widths different AMQP clients use.
func headerInt(h amqp.Table, key string) int {
	if h == nil {
		return 0
	}
	switch v := h[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func headerTime(h amqp.Table, key string, def time.Time) time.Time {
	raw := headerString(h, key, "")
	if raw == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return def
}
