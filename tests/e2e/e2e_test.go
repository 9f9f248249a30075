// Package e2e exercises the booking saga against a running compose stack.
//
// The suite is black box: it talks to the three services over HTTP only and
// observes saga progress by polling resources. Scenarios that need a failing
// payment gateway are gated on E2E_PAYMENT_RATIO, which must match the
// PAYMENT_SIMULATED_SUCCESS_RATIO the stack was started with.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sagaTimeout = 30 * time.Second
	pollTick    = 500 * time.Millisecond
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func bookingAPI() string   { return envOr("E2E_BOOKING_URL", "http://localhost:8081") }
func inventoryAPI() string { return envOr("E2E_INVENTORY_URL", "http://localhost:8082") }
func paymentAPI() string   { return envOr("E2E_PAYMENT_URL", "http://localhost:8083") }

// successRatio mirrors the stack's PAYMENT_SIMULATED_SUCCESS_RATIO so tests
// can skip when their scenario needs the other gateway behavior.
func successRatio(t *testing.T) float64 {
	t.Helper()
	raw := envOr("E2E_PAYMENT_RATIO", "1.0")
	ratio, err := strconv.ParseFloat(raw, 64)
	require.NoError(t, err, "E2E_PAYMENT_RATIO must be a float")
	return ratio
}

func requireRatio(t *testing.T, want float64) {
	t.Helper()
	if got := successRatio(t); got != want {
		t.Skipf("scenario needs a stack with PAYMENT_SIMULATED_SUCCESS_RATIO=%v (E2E_PAYMENT_RATIO=%v)", want, got)
	}
}

func requireStack(t *testing.T) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	for _, base := range []string{bookingAPI(), inventoryAPI(), paymentAPI()} {
		resp, err := client.Get(base + "/health")
		if err != nil {
			t.Skipf("stack not reachable at %s: %v", base, err)
		}
		resp.Body.Close()
	}
}

// Client is a thin per-identity HTTP helper. Identity headers stand in for
// the edge gateway the stack trusts in front of the services.
type Client struct {
	t      *testing.T
	base   string
	client *http.Client
	userID string
	roles  string
}

func NewClient(t *testing.T, base, userID string) *Client {
	return &Client{
		t:      t,
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
		userID: userID,
	}
}

func NewOperator(t *testing.T, base string) *Client {
	c := NewClient(t, base, "op-e2e")
	c.roles = "admin"
	return c
}

func (c *Client) do(method, path string, body any) (int, map[string]any) {
	var buf *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		buf = bytes.NewBuffer(b)
	} else {
		buf = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, c.base+path, buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}

	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var resMap map[string]any
	// ignore decode error for empty bodies
	_ = json.NewDecoder(resp.Body).Decode(&resMap)

	return resp.StatusCode, resMap
}

func (c *Client) Post(path string, body any) (int, map[string]any) {
	return c.do("POST", path, body)
}

func (c *Client) Get(path string) (int, map[string]any) {
	return c.do("GET", path, nil)
}

func data(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

func listData(body map[string]any) []any {
	d, _ := body["data"].([]any)
	return d
}

func uniqueRoom() string {
	return fmt.Sprintf("ROOM-%d", time.Now().UnixNano())
}

func seedRoom(t *testing.T, roomID string, total int) {
	t.Helper()
	op := NewOperator(t, inventoryAPI())
	status, body := op.Post("/api/v1/inventory", map[string]any{
		"itemId": roomID,
		"name":   "E2E room",
		"total":  total,
	})
	require.Equal(t, http.StatusOK, status, "seeding inventory failed: %v", body)
}

func createBooking(t *testing.T, user *Client, roomID string, amount int) string {
	t.Helper()
	status, body := user.Post("/api/v1/bookings", map[string]any{
		"roomId": roomID,
		"amount": amount,
	})
	require.Equal(t, http.StatusCreated, status, "create booking failed: %v", body)
	b := data(body)
	require.Equal(t, "PENDING", b["status"])
	id, _ := b["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func awaitBookingStatus(t *testing.T, user *Client, bookingID, want string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		status, body := user.Get("/api/v1/bookings/" + bookingID)
		if status != http.StatusOK {
			return false
		}
		last = data(body)
		return last["status"] == want
	}, sagaTimeout, pollTick, "booking %s never reached %s", bookingID, want)
	return last
}

func awaitReservationStatus(t *testing.T, bookingID, want string) map[string]any {
	t.Helper()
	op := NewOperator(t, inventoryAPI())
	var last map[string]any
	require.Eventually(t, func() bool {
		status, body := op.Get("/api/v1/inventory/reservations/" + bookingID)
		if status != http.StatusOK {
			return false
		}
		last = data(body)
		return last["status"] == want
	}, sagaTimeout, pollTick, "reservation for %s never reached %s", bookingID, want)
	return last
}

func getItem(t *testing.T, roomID string) map[string]any {
	t.Helper()
	c := NewClient(t, inventoryAPI(), "")
	status, body := c.Get("/api/v1/inventory/" + roomID)
	require.Equal(t, http.StatusOK, status)
	return data(body)
}

func getPayment(t *testing.T, bookingID string) (int, map[string]any) {
	t.Helper()
	op := NewOperator(t, paymentAPI())
	status, body := op.Get("/api/v1/payments/" + bookingID)
	return status, data(body)
}

func TestHappyPathConfirmsBooking(t *testing.T) {
	requireStack(t)
	requireRatio(t, 1.0)

	room := uniqueRoom()
	seedRoom(t, room, 1)
	user := NewClient(t, bookingAPI(), "user-"+uuid.NewString())

	bookingID := createBooking(t, user, room, 500)

	booking := awaitBookingStatus(t, user, bookingID, "CONFIRMED")
	assert.NotEmpty(t, booking["confirmedAt"])
	assert.Empty(t, booking["cancellationReason"])

	// The reservation is confirmed by a separate consumer, so it may lag the
	// booking by a delivery.
	reservation := awaitReservationStatus(t, bookingID, "CONFIRMED")
	assert.Equal(t, room, reservation["itemId"])

	item := getItem(t, room)
	assert.Equal(t, float64(0), item["available"])
	assert.Equal(t, float64(1), item["reserved"])

	status, payment := getPayment(t, bookingID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SUCCESS", payment["status"])
	assert.NotEmpty(t, payment["transactionId"])
	assert.Equal(t, float64(0), payment["retryCount"])
}

func TestPaymentFailureReleasesStockAndCancelsBooking(t *testing.T) {
	requireStack(t)
	requireRatio(t, 0.0)

	room := uniqueRoom()
	seedRoom(t, room, 1)
	user := NewClient(t, bookingAPI(), "user-"+uuid.NewString())

	bookingID := createBooking(t, user, room, 500)

	booking := awaitBookingStatus(t, user, bookingID, "CANCELLED")
	reason, _ := booking["cancellationReason"].(string)
	assert.Contains(t, reason, "Payment failed")
	assert.NotEmpty(t, booking["cancelledAt"])

	reservation := awaitReservationStatus(t, bookingID, "RELEASED")
	assert.Equal(t, "Payment failed", reservation["releaseReason"])

	require.Eventually(t, func() bool {
		item := getItem(t, room)
		return item["available"] == float64(1) && item["reserved"] == float64(0)
	}, sagaTimeout, pollTick, "stock was not restored after compensation")

	status, payment := getPayment(t, bookingID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "FAILED", payment["status"])
	assert.NotEmpty(t, payment["errorMessage"])
	assert.Equal(t, float64(0), payment["retryCount"])
}

func TestInsufficientStockCancelsBooking(t *testing.T) {
	requireStack(t)

	room := uniqueRoom()
	seedRoom(t, room, 0)
	user := NewClient(t, bookingAPI(), "user-"+uuid.NewString())

	bookingID := createBooking(t, user, room, 500)

	booking := awaitBookingStatus(t, user, bookingID, "CANCELLED")
	reason, _ := booking["cancellationReason"].(string)
	assert.Contains(t, reason, "Inventory reservation failed")

	// No hold was ever taken, so there is no reservation row and no payment.
	op := NewOperator(t, inventoryAPI())
	status, _ := op.Get("/api/v1/inventory/reservations/" + bookingID)
	assert.Equal(t, http.StatusNotFound, status)

	item := getItem(t, room)
	assert.Equal(t, float64(0), item["available"])
	assert.Equal(t, float64(0), item["reserved"])

	status, _ = getPayment(t, bookingID)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestManualRetryExhaustionParksPayment(t *testing.T) {
	requireStack(t)
	requireRatio(t, 0.0)

	room := uniqueRoom()
	seedRoom(t, room, 1)
	user := NewClient(t, bookingAPI(), "user-"+uuid.NewString())

	bookingID := createBooking(t, user, room, 500)
	awaitBookingStatus(t, user, bookingID, "CANCELLED")

	op := NewOperator(t, paymentAPI())

	// The first three retries re-charge and fail, burning the budget.
	for i := 1; i <= 3; i++ {
		status, body := op.Post("/api/v1/payments/retry", map[string]any{"bookingId": bookingID})
		require.Equal(t, http.StatusOK, status, "retry %d failed: %v", i, body)
		payment := data(body)
		assert.Equal(t, "FAILED", payment["status"], "retry %d", i)
		assert.Equal(t, float64(i), payment["retryCount"], "retry %d", i)
	}

	// The fourth call parks the payment and deposits a dead letter.
	status, body := op.Post("/api/v1/payments/retry", map[string]any{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, status)
	payment := data(body)
	assert.Equal(t, "PERMANENTLY_FAILED", payment["status"])
	assert.Equal(t, float64(3), payment["retryCount"])

	status, dlBody := op.Get("/api/v1/dead-letters")
	require.Equal(t, http.StatusOK, status)
	matches := 0
	for _, raw := range listData(dlBody) {
		dl, _ := raw.(map[string]any)
		payload, _ := dl["payload"].(string)
		if dl["eventType"] == "PaymentRetryFailed" && strings.Contains(payload, bookingID) {
			matches++
			assert.Equal(t, float64(3), dl["attemptCount"])
		}
	}
	assert.Equal(t, 1, matches, "expected exactly one dead letter for the exhausted payment")

	// Parked is terminal; another retry answers with the record unchanged.
	status, body = op.Post("/api/v1/payments/retry", map[string]any{"bookingId": bookingID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PERMANENTLY_FAILED", data(body)["status"])
}

func TestUnknownResourcesAnswer404(t *testing.T) {
	requireStack(t)

	ghost := uuid.NewString()
	user := NewClient(t, bookingAPI(), "user-"+uuid.NewString())

	status, _ := user.Get("/api/v1/bookings/" + ghost)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getPayment(t, ghost)
	assert.Equal(t, http.StatusNotFound, status)

	op := NewOperator(t, inventoryAPI())
	status, _ = op.Get("/api/v1/inventory/reservations/" + ghost)
	assert.Equal(t, http.StatusNotFound, status)

	c := NewClient(t, inventoryAPI(), "")
	status, _ = c.Get("/api/v1/inventory/GHOST-ROOM")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBookingRequiresIdentity(t *testing.T) {
	requireStack(t)

	anon := NewClient(t, bookingAPI(), "")
	status, _ := anon.Post("/api/v1/bookings", map[string]any{"roomId": "ROOM-1", "amount": 100})
	assert.Equal(t, http.StatusUnauthorized, status)

	user := NewClient(t, paymentAPI(), "user-"+uuid.NewString())
	status, _ = user.Post("/api/v1/payments/retry", map[string]any{"bookingId": uuid.NewString()})
	assert.Equal(t, http.StatusForbidden, status, "payment operations are operator only")
}
