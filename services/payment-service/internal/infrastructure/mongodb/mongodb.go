package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	paymentsCollection   = "payments"
	outboxCollection     = "outbox_messages"
	deadLetterCollection = "dead_letters"
)

// inFlightWindow is how long a claimed outbox message stays invisible to
// other relays before it becomes claimable again.
const inFlightWindow = 15 * time.Second

// Connect dials MongoDB and verifies the connection with a ping. Payment
// writes use multi-document transactions, so the deployment must be a
// replica set. Every operation runs under a 30 s client-side timeout unless
// the caller's context is tighter.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(uri).SetTimeout(30 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the uniqueness and worker indexes. The unique
// booking_id index is the duplicate-delivery arbiter; everything else is
// read-path support.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(paymentsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "booking_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("payments booking_id index: %w", err)
	}

	if _, err := db.Collection(outboxCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "published", Value: 1},
			{Key: "next_attempt_at", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}); err != nil {
		return fmt.Errorf("outbox relay index: %w", err)
	}

	if _, err := db.Collection(deadLetterCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "resolved", Value: 1},
			{Key: "failed_at", Value: -1},
		}},
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
		{Keys: bson.D{{Key: "source_queue", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("dead letter indexes: %w", err)
	}
	return nil
}

// withTransaction runs fn inside one MongoDB transaction.
func withTransaction(ctx context.Context, client *mongo.Client, fn func(sc mongo.SessionContext) error) error {
	session, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
