package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
)

type deadLetterDoc struct {
	ID              string     `bson:"_id"`
	SourceQueue     string     `bson:"source_queue"`
	EventType       string     `bson:"event_type"`
	Payload         []byte     `bson:"payload"`
	ErrorMessage    string     `bson:"error_message"`
	AttemptCount    int        `bson:"attempt_count"`
	FirstAttemptAt  time.Time  `bson:"first_attempt_at"`
	FailedAt        time.Time  `bson:"failed_at"`
	Resolved        bool       `bson:"resolved"`
	ResolvedAt      *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy      *string    `bson:"resolved_by,omitempty"`
	ResolutionNotes *string    `bson:"resolution_notes,omitempty"`
}

// newDeadLetterDoc fills the identifiers and timestamps the caller left
// zero, matching the store contract.
func newDeadLetterDoc(msg *deadletter.Message) deadLetterDoc {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.FailedAt.IsZero() {
		msg.FailedAt = time.Now().UTC()
	}
	if msg.FirstAttemptAt.IsZero() {
		msg.FirstAttemptAt = msg.FailedAt
	}
	return deadLetterDoc{
		ID:              msg.ID,
		SourceQueue:     msg.SourceQueue,
		EventType:       msg.EventType,
		Payload:         msg.Payload,
		ErrorMessage:    msg.ErrorMessage,
		AttemptCount:    msg.AttemptCount,
		FirstAttemptAt:  msg.FirstAttemptAt,
		FailedAt:        msg.FailedAt,
		Resolved:        msg.Resolved,
		ResolvedAt:      msg.ResolvedAt,
		ResolvedBy:      msg.ResolvedBy,
		ResolutionNotes: msg.ResolutionNotes,
	}
}

func (d deadLetterDoc) toMessage() deadletter.Message {
	return deadletter.Message{
		ID:              d.ID,
		SourceQueue:     d.SourceQueue,
		EventType:       d.EventType,
		Payload:         d.Payload,
		ErrorMessage:    d.ErrorMessage,
		AttemptCount:    d.AttemptCount,
		FirstAttemptAt:  d.FirstAttemptAt,
		FailedAt:        d.FailedAt,
		Resolved:        d.Resolved,
		ResolvedAt:      d.ResolvedAt,
		ResolvedBy:      d.ResolvedBy,
		ResolutionNotes: d.ResolutionNotes,
	}
}

// DeadLetterStore implements the dead-letter store over MongoDB.
type DeadLetterStore struct {
	deadLetters *mongo.Collection
}

func NewDeadLetterStore(db *mongo.Database) *DeadLetterStore {
	return &DeadLetterStore{deadLetters: db.Collection(deadLetterCollection)}
}

func (s *DeadLetterStore) Save(ctx context.Context, msg *deadletter.Message) error {
	doc := newDeadLetterDoc(msg)
	if _, err := s.deadLetters.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, includeResolved bool, limit int) ([]deadletter.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{}
	if !includeResolved {
		filter["resolved"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.deadLetters.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []deadletter.Message
	for cursor.Next(ctx) {
		var doc deadLetterDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		msgs = append(msgs, doc.toMessage())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return msgs, nil
}

// Resolve is idempotent: re-resolving keeps the original resolved_at and
// attribution.
func (s *DeadLetterStore) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	now := time.Now().UTC()
	set := bson.M{
		"resolved":    true,
		"resolved_at": bson.M{"$ifNull": bson.A{"$resolved_at", now}},
	}
	if resolvedBy != "" {
		set["resolved_by"] = bson.M{"$ifNull": bson.A{"$resolved_by", resolvedBy}}
	}
	if notes != "" {
		set["resolution_notes"] = bson.M{"$ifNull": bson.A{"$resolution_notes", notes}}
	}
	update := bson.A{bson.M{"$set": set}}
	result, err := s.deadLetters.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if result.MatchedCount == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}
