package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/services/payment-service/internal/domain"
)

func TestChargeAlwaysSucceedsAtRatioOne(t *testing.T) {
	g := NewSimulated(1, 0)
	for i := 0; i < 20; i++ {
		res, err := g.Charge(context.Background(), domain.ChargeRequest{Amount: 100})
		require.NoError(t, err)
		require.True(t, res.Succeeded)
		assert.True(t, strings.HasPrefix(res.TransactionID, "txn_"), "got %q", res.TransactionID)
		assert.Empty(t, res.Reason)
	}
}

func TestChargeAlwaysDeclinesAtRatioZero(t *testing.T) {
	known := map[string]bool{}
	for _, r := range declineReasons {
		known[r] = true
	}

	g := NewSimulated(0, 0)
	for i := 0; i < 20; i++ {
		res, err := g.Charge(context.Background(), domain.ChargeRequest{Amount: 100})
		require.NoError(t, err, "declines are outcomes, not errors")
		require.False(t, res.Succeeded)
		assert.True(t, known[res.Reason], "unknown decline reason %q", res.Reason)
		assert.Empty(t, res.TransactionID)
	}
}

func TestNewSimulatedClampsRatio(t *testing.T) {
	high := NewSimulated(2.5, 0)
	res, err := high.Charge(context.Background(), domain.ChargeRequest{Amount: 100})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)

	low := NewSimulated(-1, 0)
	res, err = low.Charge(context.Background(), domain.ChargeRequest{Amount: 100})
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
}

func TestChargeHonorsContextDuringDelay(t *testing.T) {
	g := NewSimulated(1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	res, err := g.Charge(ctx, domain.ChargeRequest{Amount: 100})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Succeeded)
	assert.Less(t, time.Since(start), time.Second)
}
