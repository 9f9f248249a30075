package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
)

// confirmPublisher wraps one channel in confirm mode. Publishes are
// mandatory, so unroutable messages come back as returns instead of
// vanishing.
type confirmPublisher struct {
	ch        *amqp.Channel
	confirmCh chan amqp.Confirmation
	returnCh  chan amqp.Return
	timeout   time.Duration
	lg        zerolog.Logger
}

func newConfirmPublisher(ch *amqp.Channel, timeout time.Duration, lg zerolog.Logger) (*confirmPublisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &confirmPublisher{
		ch:        ch,
		confirmCh: ch.NotifyPublish(make(chan amqp.Confirmation, 32)),
		returnCh:  ch.NotifyReturn(make(chan amqp.Return, 32)),
		timeout:   timeout,
		lg:        lg,
	}, nil
}

// publish sends one message and blocks until the broker acks, returns, or
// the timeout passes. Callers serialize publishes on this channel.
func (p *confirmPublisher) publish(ctx context.Context, exchange, key string, pub amqp.Publishing) error {
	p.drainStale()

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ch.PublishWithContext(pctx, exchange, key, true, false, pub); err != nil {
		return fmt.Errorf("publish %q/%q: %w", exchange, key, err)
	}
	return p.waitAckOrReturn(pctx, key)
}

func (p *confirmPublisher) waitAckOrReturn(ctx context.Context, key string) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case ret, ok := <-p.returnCh:
		if !ok {
			return fmt.Errorf("return channel closed")
		}
		return fmt.Errorf("message %q returned: %d %s", key, ret.ReplyCode, ret.ReplyText)
	case confirm, ok := <-p.confirmCh:
		if !ok {
			return fmt.Errorf("confirm channel closed")
		}
		if !confirm.Ack {
			return fmt.Errorf("broker nacked publish %q", key)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publish confirm timeout after %s", p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainStale clears confirms and returns left over from a publish that timed
// out, so they cannot be misread as the answer to the next publish.
func (p *confirmPublisher) drainStale() {
	for {
		select {
		case <-p.confirmCh:
		case <-p.returnCh:
		default:
			return
		}
	}
}

// Publisher is a long-lived confirm-mode publisher with its own connection.
// The first connect honors the startup retry budget; after a drop it redials
// once per publish attempt and lets the caller's own retry loop pace it.
type Publisher struct {
	cfg Config
	lg  zerolog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	cp     *confirmPublisher
	closed bool
}

func NewPublisher(ctx context.Context, cfg Config, lg zerolog.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, lg: lg.With().Str("component", "publisher").Logger()}
	if err := withConnectRetry(ctx, cfg.ConnectRetry, p.lg, p.connect); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
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
	cp, err := newConfirmPublisher(ch, p.cfg.publishTimeout(), p.lg)
	if err != nil {
		closeQuietly(conn, ch)
		return err
	}
	p.conn, p.ch, p.cp = conn, ch, cp
	return nil
}

func (p *Publisher) ensure() error {
	if p.closed {
		return fmt.Errorf("publisher closed")
	}
	if p.conn != nil && !p.conn.IsClosed() && p.cp != nil {
		return nil
	}
	p.teardown()
	return p.connect()
}

func (p *Publisher) teardown() {
	closeQuietly(p.conn, p.ch)
	p.conn, p.ch, p.cp = nil, nil, nil
}

// PublishEvent publishes an envelope to the saga exchange. Errors are
// transient; the outbox relay retries with backoff and eventually spills.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey string, body []byte, correlationID, messageID string) error {
	pub := amqp.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     messageID,
		CorrelationId: correlationID,
		Body:          body,
	}
	return p.do(ctx, event.Exchange, routingKey, pub)
}

// PublishToQueue publishes directly to a named queue via the default
// exchange. Dead-letter traffic uses this path.
func (p *Publisher) PublishToQueue(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	pub := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}
	return p.do(ctx, "", queue, pub)
}

func (p *Publisher) do(ctx context.Context, exchange, key string, pub amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensure(); err != nil {
		return apperr.NewTransient("broker unavailable", err)
	}
	if err := p.cp.publish(ctx, exchange, key, pub); err != nil {
		// A failed publish leaves the channel in doubt; rebuild on next use.
		p.teardown()
		return apperr.NewTransient("publish failed", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.teardown()
}
