package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/retry"
)

const (
	defaultPublishTimeout = 10 * time.Second
	defaultHandlerTimeout = 30 * time.Second
	contentTypeJSON       = "application/json"
)

// Config carries what every broker attachment needs: where to dial and how
// long to keep trying before the process gives up at startup.
type Config struct {
	URL            string
	ConnectRetry   retry.Config
	PublishTimeout time.Duration
}

func (c Config) publishTimeout() time.Duration {
	if c.PublishTimeout <= 0 {
		return defaultPublishTimeout
	}
	return c.PublishTimeout
}

// DeclareTopology declares the saga exchange, every queue, every binding and
// every dead-letter queue. All declarations are idempotent so each service
// runs the full set on connect and startup order stops mattering.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(event.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", event.Exchange, err)
	}
	for _, q := range event.Topology {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(q.Name, q.RoutingKey, event.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.RoutingKey, err)
		}
		if !q.DLQ {
			continue
		}
		// Dead-letter queues hang off the default exchange; publishers
		// address them by name.
		if _, err := ch.QueueDeclare(event.DLQName(q.Name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", event.DLQName(q.Name), err)
		}
	}
	return nil
}

// isPreconditionFailed detects declarations that clash with an existing
// queue or exchange. Redialing cannot fix those, so callers treat them as
// fatal instead of retrying.
func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var ae *amqp.Error
	if errors.As(err, &ae) && ae.Code == amqp.PreconditionFailed {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "PRECONDITION_FAILED") || strings.Contains(msg, "INEQUIVALENT ARG")
}

// withConnectRetry runs connect under the configured backoff budget.
// Topology mismatches escape immediately; everything else is assumed to be
// the broker still coming up.
func withConnectRetry(ctx context.Context, cfg retry.Config, lg zerolog.Logger, connect func() error) error {
	var lastErr error
	for attempt := 0; cfg.MaxAttempts <= 0 || attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay(attempt - 1)):
			}
		}
		lastErr = connect()
		if lastErr == nil {
			return nil
		}
		if isPreconditionFailed(lastErr) {
			return lastErr
		}
		lg.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("broker connect failed")
	}
	return fmt.Errorf("broker connect: max retries exceeded: %w", lastErr)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func closeQuietly(conn *amqp.Connection, chs ...*amqp.Channel) {
	for _, ch := range chs {
		if ch != nil {
			_ = ch.Close()
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
}
