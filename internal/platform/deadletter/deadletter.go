package deadletter

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("dead letter not found")

// Message is a permanently parked payload awaiting operator attention.
// SourceQueue names where it died: a broker queue, "outbox_<EventName>" for
// publish-side exhaustion, or "payment_retry" for exhausted manual retries.
type Message struct {
	ID              string
	SourceQueue     string
	EventType       string
	Payload         []byte
	ErrorMessage    string
	AttemptCount    int
	FirstAttemptAt  time.Time
	FailedAt        time.Time
	Resolved        bool
	ResolvedAt      *time.Time
	ResolvedBy      *string
	ResolutionNotes *string
}

// Store persists dead letters durably. Save must assign ID and FailedAt when
// the caller left them zero. Resolve is idempotent; the first call's
// resolvedBy and notes win.
type Store interface {
	Save(ctx context.Context, msg *Message) error
	List(ctx context.Context, includeResolved bool, limit int) ([]Message, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string) error
}
