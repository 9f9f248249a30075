package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/retry"
)

type fakeStore struct {
	claimed   []Message
	claimErr  error
	published []string
	failed    map[string]time.Time
	spilled   []string
}

func newFakeStore(msgs ...Message) *fakeStore {
	return &fakeStore{claimed: msgs, failed: map[string]time.Time{}}
}

func (s *fakeStore) Claim(ctx context.Context, batchSize int) ([]Message, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if batchSize < len(s.claimed) {
		return s.claimed[:batchSize], nil
	}
	return s.claimed, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, id string) error {
	s.published = append(s.published, id)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	s.failed[id] = nextAttemptAt
	return nil
}

func (s *fakeStore) Spill(ctx context.Context, msg Message, lastErr string) error {
	s.spilled = append(s.spilled, msg.ID)
	return nil
}

type fakePublisher struct {
	errByKey map[string]error
	sent     []string
}

func (p *fakePublisher) PublishEvent(ctx context.Context, routingKey string, body []byte, correlationID, messageID string) error {
	p.sent = append(p.sent, messageID)
	return p.errByKey[messageID]
}

func msg(id string, retryCount int) Message {
	return Message{
		ID:            id,
		EventID:       "ev-" + id,
		EventName:     "BookingCreated",
		CorrelationID: "corr-" + id,
		RoutingKey:    "booking_created",
		Payload:       []byte(`{"eventId":"ev-` + id + `"}`),
		CreatedAt:     time.Now().UTC(),
		RetryCount:    retryCount,
	}
}

func testRelay(store Store, pub Publisher, maxRetries int) *Relay {
	logger.Init()
	return NewRelay(store, pub, Config{
		PollInterval: time.Second,
		BatchSize:    10,
		MaxRetries:   maxRetries,
		Backoff:      retry.Config{BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second},
	}, logger.Logger)
}

func TestDrainOncePublishesAndMarks(t *testing.T) {
	store := newFakeStore(msg("1", 0), msg("2", 0))
	pub := &fakePublisher{}

	testRelay(store, pub, 5).DrainOnce(context.Background())

	assert.Equal(t, []string{"ev-1", "ev-2"}, pub.sent)
	assert.Equal(t, []string{"1", "2"}, store.published)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.spilled)
}

func TestDrainOnceSchedulesRetryWithBackoff(t *testing.T) {
	store := newFakeStore(msg("1", 0))
	pub := &fakePublisher{errByKey: map[string]error{"ev-1": errors.New("broker down")}}

	before := time.Now().UTC()
	testRelay(store, pub, 5).DrainOnce(context.Background())

	require.Contains(t, store.failed, "1")
	next := store.failed["1"]
	// First failure backs off roughly one base delay.
	assert.True(t, next.After(before.Add(3*time.Second)), "next attempt %v too soon", next)
	assert.True(t, next.Before(before.Add(10*time.Second)), "next attempt %v too late", next)
	assert.Empty(t, store.published)
	assert.Empty(t, store.spilled)
}

func TestDrainOnceSpillsAtRetryCap(t *testing.T) {
	// Four failed attempts already recorded; the fifth exhausts the budget.
	store := newFakeStore(msg("1", 4))
	pub := &fakePublisher{errByKey: map[string]error{"ev-1": errors.New("broker down")}}

	testRelay(store, pub, 5).DrainOnce(context.Background())

	assert.Equal(t, []string{"1"}, store.spilled)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.published)
}

func TestDrainOnceOneFailureDoesNotBlockBatch(t *testing.T) {
	store := newFakeStore(msg("1", 0), msg("2", 0), msg("3", 0))
	pub := &fakePublisher{errByKey: map[string]error{"ev-2": errors.New("nacked")}}

	testRelay(store, pub, 5).DrainOnce(context.Background())

	assert.Equal(t, []string{"1", "3"}, store.published)
	assert.Contains(t, store.failed, "2")
}

func TestDrainOnceToleratesClaimError(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("db down")
	pub := &fakePublisher{}

	testRelay(store, pub, 5).DrainOnce(context.Background())

	assert.Empty(t, pub.sent)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	relay := testRelay(store, pub, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
