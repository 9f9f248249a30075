package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
)

// Message is one event captured in the same transaction as the state change
// that caused it. Payload holds the complete envelope JSON, ready to publish.
type Message struct {
	ID            string
	EventID       string
	EventName     string
	CorrelationID string
	RoutingKey    string
	Payload       []byte
	CreatedAt     time.Time
	Published     bool
	PublishedAt   *time.Time
	RetryCount    int
	NextAttemptAt time.Time
	LastError     string
}

// NewMessage wraps data in the shared event envelope and returns the outbox
// row that carries it. The routing key comes from the event registry; asking
// for an unregistered name is a programming error.
func NewMessage[T any](name, correlationID string, data T) (Message, error) {
	rk, ok := event.RoutingKeyFor(name)
	if !ok {
		return Message{}, fmt.Errorf("no routing key for event %s", name)
	}
	env := event.NewEnvelope(name, correlationID, data)
	body, err := env.Marshal()
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return Message{
		EventID:       env.EventID,
		EventName:     name,
		CorrelationID: correlationID,
		RoutingKey:    rk,
		Payload:       body,
	}, nil
}

// Store is the relay's view of the outbox table. Claim returns unpublished
// rows due for an attempt, oldest first, and must not hand the same row to
// two concurrent relays. Spill parks an exhausted message in the dead-letter
// store and retires the row in one transaction.
type Store interface {
	Claim(ctx context.Context, batchSize int) ([]Message, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error
	Spill(ctx context.Context, msg Message, lastErr string) error
}

// Publisher pushes one claimed message to the broker and waits for the
// confirm.
type Publisher interface {
	PublishEvent(ctx context.Context, routingKey string, body []byte, correlationID, messageID string) error
}
