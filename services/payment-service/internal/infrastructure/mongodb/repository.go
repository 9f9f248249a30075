package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
)

// Repository persists payments in MongoDB. Outcome writes pair the payment
// document with its outbox message in one transaction, so an event is never
// announced without its state change or vice versa.
type Repository struct {
	client      *mongo.Client
	payments    *mongo.Collection
	outbox      *mongo.Collection
	deadLetters *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		client:      db.Client(),
		payments:    db.Collection(paymentsCollection),
		outbox:      db.Collection(outboxCollection),
		deadLetters: db.Collection(deadLetterCollection),
	}
}

func (r *Repository) Create(ctx context.Context, p *domain.Payment) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if _, err := r.payments.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateBooking
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) FindByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	var p domain.Payment
	err := r.payments.FindOne(ctx, bson.M{"booking_id": bookingID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}

// RecordOutcome replaces the payment document with its post-charge state and
// appends the saga event to the outbox, atomically.
func (r *Repository) RecordOutcome(ctx context.Context, p *domain.Payment, msg outbox.Message) error {
	p.UpdatedAt = time.Now().UTC()
	doc := newOutboxDoc(msg)

	err := withTransaction(ctx, r.client, func(sc mongo.SessionContext) error {
		if _, err := r.payments.ReplaceOne(sc, bson.M{"_id": p.ID}, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if _, err := r.outbox.InsertOne(sc, doc); err != nil {
			return fmt.Errorf("insert outbox message: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record payment outcome: %w", err)
	}
	return nil
}

// MarkRetry burns one retry attempt. The filter re-checks FAILED so a
// concurrent transition can never be retried over.
func (r *Repository) MarkRetry(ctx context.Context, bookingID, method string) (*domain.Payment, error) {
	now := time.Now().UTC()
	set := bson.M{"last_retry_at": now, "updated_at": now}
	if method != "" {
		set["method"] = method
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p domain.Payment
	err := r.payments.FindOneAndUpdate(ctx,
		bson.M{"booking_id": bookingID, "status": domain.PaymentFailed},
		bson.M{"$inc": bson.M{"retry_count": 1}, "$set": set},
		opts,
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment retry: %w", err)
	}
	return &p, nil
}

// MarkPermanentlyFailed parks the payment terminally and deposits the
// dead-letter record in the same transaction.
func (r *Repository) MarkPermanentlyFailed(ctx context.Context, p *domain.Payment, dl *deadletter.Message) error {
	p.UpdatedAt = time.Now().UTC()
	doc := newDeadLetterDoc(dl)

	err := withTransaction(ctx, r.client, func(sc mongo.SessionContext) error {
		if _, err := r.payments.ReplaceOne(sc, bson.M{"_id": p.ID}, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if _, err := r.deadLetters.InsertOne(sc, doc); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark payment permanently failed: %w", err)
	}
	return nil
}
