//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/inventory-service/internal/domain"
)

func TestConcurrentReserve_DoesNotOversellStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	_, err := repo.UpsertItem(ctx, "ROOM-101", "Deluxe Room", 1)
	require.NoError(t, err)

	n := 30
	var wg sync.WaitGroup
	wg.Add(n)

	type res struct {
		result *domain.ReserveResult
		err    error
	}
	ch := make(chan res, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r, err := repo.Reserve(ctx, domain.ReserveCommand{
				BookingID:     uuid.NewString(),
				ItemID:        "ROOM-101",
				Quantity:      1,
				Amount:        100,
				CorrelationID: "corr-concurrent",
			})
			ch <- res{result: r, err: err}
		}()
	}

	wg.Wait()
	close(ch)

	var fresh, rejected int
	for r := range ch {
		require.NoError(t, r.err, "contention must resolve to business outcomes, not errors")
		switch {
		case r.result.Rejected:
			rejected++
		case r.result.Existing:
			t.Fatal("distinct bookings must never collapse onto one reservation")
		default:
			fresh++
		}
	}

	require.Equal(t, 1, fresh, "exactly one booking may win the last unit")
	require.Equal(t, n-1, rejected)

	available, reserved := itemQuantities(t, pool, "ROOM-101")
	require.Equal(t, 0, available)
	require.Equal(t, 1, reserved)
	require.Equal(t, 1, outboxCount(t, pool, "inventory_reserved"))
	require.Equal(t, n-1, outboxCount(t, pool, "inventory_reservation_failed"))
}

func TestConcurrentReserve_SameBooking_OneRowOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	_, err := repo.UpsertItem(ctx, "ROOM-101", "Deluxe Room", 5)
	require.NoError(t, err)

	bookingID := uuid.NewString()
	n := 20
	var wg sync.WaitGroup
	wg.Add(n)

	type res struct {
		result *domain.ReserveResult
		err    error
	}
	ch := make(chan res, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r, err := repo.Reserve(ctx, domain.ReserveCommand{
				BookingID:     bookingID,
				ItemID:        "ROOM-101",
				Quantity:      1,
				Amount:        100,
				CorrelationID: "corr-same-booking",
			})
			ch <- res{result: r, err: err}
		}()
	}

	wg.Wait()
	close(ch)

	var fresh, existing int
	for r := range ch {
		require.NoError(t, r.err)
		require.False(t, r.result.Rejected)
		if r.result.Existing {
			existing++
		} else {
			fresh++
		}
	}

	require.Equal(t, 1, fresh, "redeliveries of one booking must hold stock exactly once")
	require.Equal(t, n-1, existing)

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM inventory_reservations WHERE booking_id = $1", bookingID).Scan(&rows))
	require.Equal(t, 1, rows)

	available, reserved := itemQuantities(t, pool, "ROOM-101")
	require.Equal(t, 4, available)
	require.Equal(t, 1, reserved)
	require.Equal(t, 1, outboxCount(t, pool, "inventory_reserved"))
}

func TestConcurrentReleaseAndExpiry_SingleRestore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	_, err := repo.UpsertItem(ctx, "ROOM-101", "Deluxe Room", 1)
	require.NoError(t, err)

	bookingID := uuid.NewString()
	_, err = repo.Reserve(ctx, domain.ReserveCommand{
		BookingID: bookingID, ItemID: "ROOM-101", Quantity: 1, Amount: 100, CorrelationID: "corr-race",
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		"UPDATE inventory_reservations SET expires_at = now() - interval '1 minute' WHERE booking_id = $1", bookingID)
	require.NoError(t, err)

	// Compensation and the expiry sweep race for the same hold.
	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	applied := make(chan bool, 2)

	go func() {
		defer wg.Done()
		ok, err := repo.Release(ctx, bookingID, domain.ReleaseReasonPaymentFailed)
		applied <- ok
		errs <- err
	}()
	go func() {
		defer wg.Done()
		n, err := repo.ExpireDue(ctx, 10)
		applied <- n > 0
		errs <- err
	}()

	wg.Wait()
	close(errs)
	close(applied)

	for err := range errs {
		require.NoError(t, err)
	}

	wins := 0
	for ok := range applied {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one path may give the stock back")

	available, reserved := itemQuantities(t, pool, "ROOM-101")
	require.Equal(t, 1, available, "stock restored exactly once")
	require.Equal(t, 0, reserved)
	require.Equal(t, 1, outboxCount(t, pool, "inventory_released"))
}
