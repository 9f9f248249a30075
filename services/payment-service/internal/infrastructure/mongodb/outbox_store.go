package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

type outboxDoc struct {
	ID            string     `bson:"_id"`
	EventID       string     `bson:"event_id"`
	EventName     string     `bson:"event_name"`
	CorrelationID string     `bson:"correlation_id"`
	RoutingKey    string     `bson:"routing_key"`
	Payload       []byte     `bson:"payload"`
	CreatedAt     time.Time  `bson:"created_at"`
	Published     bool       `bson:"published"`
	PublishedAt   *time.Time `bson:"published_at,omitempty"`
	RetryCount    int        `bson:"retry_count"`
	NextAttemptAt time.Time  `bson:"next_attempt_at"`
	LastError     string     `bson:"last_error"`
}

func newOutboxDoc(msg outbox.Message) outboxDoc {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return outboxDoc{
		ID:            id,
		EventID:       msg.EventID,
		EventName:     msg.EventName,
		CorrelationID: msg.CorrelationID,
		RoutingKey:    msg.RoutingKey,
		Payload:       msg.Payload,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}

func (d outboxDoc) toMessage() outbox.Message {
	return outbox.Message{
		ID:            d.ID,
		EventID:       d.EventID,
		EventName:     d.EventName,
		CorrelationID: d.CorrelationID,
		RoutingKey:    d.RoutingKey,
		Payload:       d.Payload,
		CreatedAt:     d.CreatedAt,
		Published:     d.Published,
		PublishedAt:   d.PublishedAt,
		RetryCount:    d.RetryCount,
		NextAttemptAt: d.NextAttemptAt,
		LastError:     d.LastError,
	}
}

// OutboxStore implements the relay's store port over MongoDB. Claiming is a
// loop of atomic FindOneAndUpdate calls, each pushing one due message's next
// attempt a short window into the future, so no two relays publish the same
// message concurrently.
type OutboxStore struct {
	client      *mongo.Client
	outbox      *mongo.Collection
	deadLetters *mongo.Collection
}

func NewOutboxStore(db *mongo.Database) *OutboxStore {
	return &OutboxStore{
		client:      db.Client(),
		outbox:      db.Collection(outboxCollection),
		deadLetters: db.Collection(deadLetterCollection),
	}
}

func (s *OutboxStore) Claim(ctx context.Context, batchSize int) ([]outbox.Message, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.Before)

	var msgs []outbox.Message
	for len(msgs) < batchSize {
		now := time.Now().UTC()
		var doc outboxDoc
		err := s.outbox.FindOneAndUpdate(ctx,
			bson.M{"published": false, "next_attempt_at": bson.M{"$lte": now}},
			bson.M{"$set": bson.M{"next_attempt_at": now.Add(inFlightWindow)}},
			opts,
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("claim outbox message: %w", err)
		}
		msgs = append(msgs, doc.toMessage())
	}
	return msgs, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.outbox.UpdateByID(ctx, id,
		bson.M{"$set": bson.M{"published": true, "published_at": now}})
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.outbox.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{"next_attempt_at": nextAttemptAt, "last_error": lastErr},
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// Spill parks an exhausted message in dead_letters and retires the outbox
// document in one transaction; the relay never claims it again.
func (s *OutboxStore) Spill(ctx context.Context, msg outbox.Message, lastErr string) error {
	doc := newDeadLetterDoc(&deadletter.Message{
		SourceQueue:    "outbox_" + msg.EventName,
		EventType:      msg.EventName,
		Payload:        msg.Payload,
		ErrorMessage:   lastErr,
		AttemptCount:   msg.RetryCount + 1,
		FirstAttemptAt: msg.CreatedAt,
	})

	err := withTransaction(ctx, s.client, func(sc mongo.SessionContext) error {
		if _, err := s.deadLetters.InsertOne(sc, doc); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		now := time.Now().UTC()
		if _, err := s.outbox.UpdateByID(sc, msg.ID,
			bson.M{"$set": bson.M{"published": true, "published_at": now, "last_error": lastErr}}); err != nil {
			return fmt.Errorf("retire outbox document: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("spill outbox message: %w", err)
	}
	return nil
}
