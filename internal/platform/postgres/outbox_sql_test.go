package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/outbox"
)

func TestInsertOutboxTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).
		WithArgs(sqlmock.AnyArg(), "ev-1", "BookingCreated", "corr-1", "booking_created", `{}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	err = InsertOutboxTx(context.Background(), tx, outbox.Message{
		EventID:       "ev-1",
		EventName:     "BookingCreated",
		CorrelationID: "corr-1",
		RoutingKey:    "booking_created",
		Payload:       []byte(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLOutboxStoreClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "event_id", "event_name", "correlation_id", "routing_key", "payload", "created_at", "retry_count",
	}).
		AddRow("m-1", "ev-1", "BookingCreated", "corr-1", "booking_created", []byte(`{"a":1}`), created, 0).
		AddRow("m-2", "ev-2", "PaymentFailed", "corr-2", "payment_failed", []byte(`{"b":2}`), created, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("next_attempt_at = now() + interval '15 seconds'")).
		WithArgs(pq.Array([]string{"m-1", "m-2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	store := NewSQLOutboxStore(db)
	msgs, err := store.Claim(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, "BookingCreated", msgs[0].EventName)
	assert.Equal(t, 2, msgs[1].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLOutboxStoreClaimEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_id", "event_name", "correlation_id", "routing_key", "payload", "created_at", "retry_count",
		}))
	mock.ExpectCommit()

	msgs, err := NewSQLOutboxStore(db).Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLOutboxStoreMarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	next := time.Now().UTC().Add(10 * time.Second)
	mock.ExpectExec(regexp.QuoteMeta("retry_count = retry_count + 1")).
		WithArgs("m-1", next, "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewSQLOutboxStore(db).MarkFailed(context.Background(), "m-1", next, "connection refused")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLOutboxStoreSpillWritesDeadLetterAndRetiresRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().UTC().Add(-time.Hour)
	msg := outbox.Message{
		ID:         "m-1",
		EventID:    "ev-1",
		EventName:  "BookingCreated",
		RoutingKey: "booking_created",
		Payload:    []byte(`{"a":1}`),
		CreatedAt:  created,
		RetryCount: 4,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dead_letters")).
		WithArgs(sqlmock.AnyArg(), "outbox_BookingCreated", "BookingCreated", []byte(`{"a":1}`),
			"confirm timeout", 5, created, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET published = TRUE")).
		WithArgs("m-1", "confirm timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewSQLOutboxStore(db).Spill(context.Background(), msg, "confirm timeout")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
