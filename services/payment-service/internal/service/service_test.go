package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/deadletter"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/event"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/logger"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
)

// fakeRepo applies the same uniqueness and transition rules as the MongoDB
// repository, including event and dead-letter capture.
type fakeRepo struct {
	payments    map[string]*domain.Payment
	events      []outbox.Message
	deadLetters []*deadletter.Message

	createErr  error
	findErr    error
	recordErr  error
	retryErr   error
	exhaustErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{payments: map[string]*domain.Payment{}}
}

func (f *fakeRepo) seed(p *domain.Payment) {
	clone := *p
	f.payments[p.BookingID] = &clone
}

func (f *fakeRepo) Create(ctx context.Context, p *domain.Payment) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.payments[p.BookingID]; ok {
		return domain.ErrDuplicateBooking
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	clone := *p
	f.payments[p.BookingID] = &clone
	return nil
}

func (f *fakeRepo) FindByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	p, ok := f.payments[bookingID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	clone := *p
	return &clone, nil
}

func (f *fakeRepo) RecordOutcome(ctx context.Context, p *domain.Payment, msg outbox.Message) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	p.UpdatedAt = time.Now().UTC()
	clone := *p
	f.payments[p.BookingID] = &clone
	f.events = append(f.events, msg)
	return nil
}

func (f *fakeRepo) MarkRetry(ctx context.Context, bookingID, method string) (*domain.Payment, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	p, ok := f.payments[bookingID]
	if !ok || p.Status != domain.PaymentFailed {
		return nil, domain.ErrPaymentNotFound
	}
	now := time.Now().UTC()
	p.RetryCount++
	p.LastRetryAt = &now
	p.UpdatedAt = now
	if method != "" {
		p.Method = method
	}
	clone := *p
	return &clone, nil
}

func (f *fakeRepo) MarkPermanentlyFailed(ctx context.Context, p *domain.Payment, dl *deadletter.Message) error {
	if f.exhaustErr != nil {
		return f.exhaustErr
	}
	p.UpdatedAt = time.Now().UTC()
	clone := *p
	f.payments[p.BookingID] = &clone
	f.deadLetters = append(f.deadLetters, dl)
	return nil
}

type chargeOutcome struct {
	result domain.ChargeResult
	err    error
}

// scriptedGateway replays predefined outcomes and records every request, so
// tests can assert how many charges actually ran.
type scriptedGateway struct {
	outcomes []chargeOutcome
	requests []domain.ChargeRequest
}

func (g *scriptedGateway) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	g.requests = append(g.requests, req)
	if len(g.outcomes) == 0 {
		return domain.ChargeResult{Succeeded: true, TransactionID: "txn_default"}, nil
	}
	next := g.outcomes[0]
	g.outcomes = g.outcomes[1:]
	return next.result, next.err
}

func success(txn string) chargeOutcome {
	return chargeOutcome{result: domain.ChargeResult{Succeeded: true, TransactionID: txn}}
}

func decline(reason string) chargeOutcome {
	return chargeOutcome{result: domain.ChargeResult{Reason: reason}}
}

func gatewayError(err error) chargeOutcome {
	return chargeOutcome{err: err}
}

func newTestService(repo *fakeRepo, gw *scriptedGateway) *PaymentService {
	logger.Init()
	return New(repo, gw, 3, logger.Logger)
}

func rawEnvelope(t *testing.T, name, correlationID string, data any) event.RawEnvelope {
	t.Helper()
	body, err := json.Marshal(data)
	require.NoError(t, err)
	return event.RawEnvelope{
		EventID:       uuid.NewString(),
		EventName:     name,
		CorrelationID: correlationID,
		Data:          body,
	}
}

func reservedEnvelope(t *testing.T, bookingID string, amount int64) event.RawEnvelope {
	t.Helper()
	return rawEnvelope(t, event.InventoryReservedName, "corr-1", event.InventoryReserved{
		BookingID:     bookingID,
		ReservationID: uuid.NewString(),
		ItemID:        "ROOM-101",
		Quantity:      1,
		Amount:        amount,
	})
}

func TestHandleInventoryReservedChargesBooking(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{success("txn_abc123")}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, bookingID, 25000)))

	p := repo.payments[bookingID]
	require.NotNil(t, p)
	assert.Equal(t, domain.PaymentSuccess, p.Status)
	assert.Equal(t, "txn_abc123", p.TransactionID)
	assert.Equal(t, int64(25000), p.Amount)
	assert.Equal(t, defaultMethod, p.Method)
	assert.Equal(t, "corr-1", p.CorrelationID)
	assert.Equal(t, 0, p.RetryCount)
	require.NotNil(t, p.ProcessedAt)

	require.Len(t, gw.requests, 1)
	assert.Equal(t, p.ID, gw.requests[0].PaymentID, "payment id is the idempotency key")

	require.Len(t, repo.events, 1)
	assert.Equal(t, event.PaymentSucceededName, repo.events[0].EventName)
	assert.Equal(t, "corr-1", repo.events[0].CorrelationID)

	var out event.Envelope[event.PaymentSucceeded]
	require.NoError(t, json.Unmarshal(repo.events[0].Payload, &out))
	assert.Equal(t, "txn_abc123", out.Data.TransactionID)
	assert.Equal(t, int64(25000), out.Data.Amount)
}

func TestHandleInventoryReservedDuplicateDeliveryChargesOnce(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{decline("card_declined")}}
	svc := newTestService(repo, gw)

	env := reservedEnvelope(t, uuid.NewString(), 100)
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))

	assert.Len(t, gw.requests, 1, "a settled payment is never re-charged by delivery")
	assert.Len(t, repo.events, 1)
	assert.Len(t, repo.payments, 1)
}

func TestHandleInventoryReservedDeclineEmitsPaymentFailed(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{decline("insufficient_funds")}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, bookingID, 100)),
		"a decline is a business outcome and acks the delivery")

	p := repo.payments[bookingID]
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Equal(t, "insufficient_funds", p.ErrorMessage)
	assert.Empty(t, p.TransactionID)
	assert.Equal(t, 0, p.RetryCount)

	require.Len(t, repo.events, 1)
	assert.Equal(t, event.PaymentFailedName, repo.events[0].EventName)

	var out event.Envelope[event.PaymentFailed]
	require.NoError(t, json.Unmarshal(repo.events[0].Payload, &out))
	assert.Equal(t, "insufficient_funds", out.Data.Reason)
}

func TestHandleInventoryReservedGatewayErrorIsTransient(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{gatewayError(errors.New("provider timeout"))}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	err := svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, bookingID, 100))
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	// The PENDING record survives so the redelivery resumes this charge.
	assert.Equal(t, domain.PaymentPending, repo.payments[bookingID].Status)
	assert.Empty(t, repo.events)
}

func TestHandleInventoryReservedResumesPendingAfterCrash(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{success("txn_resumed")}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{
		ID:            "pay-1",
		BookingID:     bookingID,
		Amount:        100,
		Method:        defaultMethod,
		Status:        domain.PaymentPending,
		CorrelationID: "corr-1",
	})

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, bookingID, 100)))

	require.Len(t, gw.requests, 1)
	assert.Equal(t, "pay-1", gw.requests[0].PaymentID, "the resumed charge keeps the original idempotency key")
	assert.Equal(t, domain.PaymentSuccess, repo.payments[bookingID].Status)
}

func TestHandleInventoryReservedBadPayloadIsPoison(t *testing.T) {
	svc := newTestService(newFakeRepo(), &scriptedGateway{})
	env := event.RawEnvelope{
		EventID:   "ev-1",
		EventName: event.InventoryReservedName,
		Data:      json.RawMessage(`{"amount":"NaN"}`),
	}
	err := svc.HandleInventoryReserved(context.Background(), env)
	require.Error(t, err)
	assert.True(t, apperr.IsPoison(err))
}

func TestRetryExhaustionParksPayment(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{
		decline("card_declined"), decline("card_declined"), decline("card_declined"),
	}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{
		ID:            "pay-1",
		BookingID:     bookingID,
		Amount:        100,
		Method:        defaultMethod,
		Status:        domain.PaymentFailed,
		ErrorMessage:  "card_declined",
		CorrelationID: "corr-1",
	})

	// Three retries burn the budget, each one re-charging and failing.
	for i := 1; i <= 3; i++ {
		p, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentFailed, p.Status)
		assert.Equal(t, i, p.RetryCount)
		require.NotNil(t, p.LastRetryAt)
	}
	assert.Len(t, gw.requests, 3)

	// The fourth call parks the payment without charging and still succeeds.
	p, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
	require.NoError(t, err, "exhaustion is reported as a normal response")
	assert.Equal(t, domain.PaymentPermanentlyFailed, p.Status)
	assert.Equal(t, 3, p.RetryCount)
	assert.Contains(t, p.ErrorMessage, "dead letter")
	assert.Len(t, gw.requests, 3, "the exhausting call must not charge")

	require.Len(t, repo.deadLetters, 1)
	dl := repo.deadLetters[0]
	assert.Equal(t, "payment_retry", dl.SourceQueue)
	assert.Equal(t, event.PaymentRetryFailedName, dl.EventType)
	assert.Equal(t, 3, dl.AttemptCount)
	assert.Equal(t, "card_declined", dl.ErrorMessage)

	var snapshot event.PaymentRetryFailed
	require.NoError(t, json.Unmarshal(dl.Payload, &snapshot))
	assert.Equal(t, bookingID, snapshot.BookingID)
	assert.Equal(t, 3, snapshot.RetryCount)

	// Once parked, further retries answer with the record and change nothing.
	again, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPermanentlyFailed, again.Status)
	assert.Len(t, repo.deadLetters, 1)
}

func TestRetrySuccessEmitsPaymentSucceeded(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{success("txn_second_try")}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{
		ID:            "pay-1",
		BookingID:     bookingID,
		Amount:        100,
		Method:        defaultMethod,
		Status:        domain.PaymentFailed,
		ErrorMessage:  "card_declined",
		CorrelationID: "corr-1",
	})

	p, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, p.Status)
	assert.Equal(t, "txn_second_try", p.TransactionID)
	assert.Empty(t, p.ErrorMessage)
	assert.Equal(t, 1, p.RetryCount)

	require.Len(t, repo.events, 1)
	assert.Equal(t, event.PaymentSucceededName, repo.events[0].EventName)
	assert.Equal(t, "corr-1", repo.events[0].CorrelationID, "retries stay on the original saga instance")
}

func TestRetryMethodOverride(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{outcomes: []chargeOutcome{decline("card_declined")}}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{
		ID:        "pay-1",
		BookingID: bookingID,
		Amount:    100,
		Method:    defaultMethod,
		Status:    domain.PaymentFailed,
	})

	p, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID, Method: "PAYPAL"})
	require.NoError(t, err)
	assert.Equal(t, "PAYPAL", p.Method)
	require.Len(t, gw.requests, 1)
	assert.Equal(t, "PAYPAL", gw.requests[0].Method)
}

func TestRetryOnSuccessIsDenied(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &scriptedGateway{})

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{
		ID: "pay-1", BookingID: bookingID, Status: domain.PaymentSuccess, TransactionID: "txn_done",
	})

	_, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBusinessRule, apperr.CodeOf(err))
}

func TestRetryOnPendingIsDenied(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &scriptedGateway{})

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{ID: "pay-1", BookingID: bookingID, Status: domain.PaymentPending})

	_, err := svc.Retry(context.Background(), RetryInput{BookingID: bookingID})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBusinessRule, apperr.CodeOf(err))
}

func TestRetryUnknownPaymentNotFound(t *testing.T) {
	svc := newTestService(newFakeRepo(), &scriptedGateway{})
	_, err := svc.Retry(context.Background(), RetryInput{BookingID: uuid.NewString()})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestProcessMintsCorrelationWithoutContext(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{}
	svc := newTestService(repo, gw)

	bookingID := uuid.NewString()
	p, err := svc.Process(context.Background(), ProcessInput{BookingID: bookingID, Amount: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, p.CorrelationID)
	require.Len(t, repo.events, 1)
	assert.Equal(t, p.CorrelationID, repo.events[0].CorrelationID)
}

func TestGetPayment(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &scriptedGateway{})

	bookingID := uuid.NewString()
	repo.seed(&domain.Payment{ID: "pay-1", BookingID: bookingID, Status: domain.PaymentFailed})

	p, err := svc.Get(context.Background(), bookingID)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)

	_, err = svc.Get(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestRegistrationsCoverReservedQueue(t *testing.T) {
	svc := newTestService(newFakeRepo(), &scriptedGateway{})
	regs := svc.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, event.QueueInventoryReserved, regs[0].Queue)
	require.NotNil(t, regs[0].Handler)
}
