package event

// Saga event names as they appear in the envelope's eventName field.
const (
	BookingCreatedName             = "BookingCreated"
	InventoryReservedName          = "InventoryReserved"
	InventoryReservationFailedName = "InventoryReservationFailed"
	InventoryReleasedName          = "InventoryReleased"
	PaymentSucceededName           = "PaymentSucceeded"
	PaymentFailedName              = "PaymentFailed"
	BookingCancelledName           = "BookingCancelled"

	// PaymentRetryFailedName only ever appears as the eventType of a
	// dead-letter record written when manual payment retries are exhausted.
	// It is never published to the broker.
	PaymentRetryFailedName = "PaymentRetryFailed"
)

// routingKeys maps event names to broker routing keys. Dispatch is driven by
// this registry so an unknown event name fails loudly at publish time.
var routingKeys = map[string]string{
	BookingCreatedName:             "booking_created",
	InventoryReservedName:          "inventory_reserved",
	InventoryReservationFailedName: "inventory_reservation_failed",
	InventoryReleasedName:          "inventory_released",
	PaymentSucceededName:           "payment_succeeded",
	PaymentFailedName:              "payment_failed",
	BookingCancelledName:           "booking_cancelled",
}

// RoutingKeyFor returns the broker routing key for a saga event name.
// The second return is false for names that never travel over the broker.
func RoutingKeyFor(eventName string) (string, bool) {
	rk, ok := routingKeys[eventName]
	return rk, ok
}

// BookingCreated is emitted by the booking service when a booking row is
// created in PENDING state. Amount travels with the event because the
// payment service charges asynchronously and never calls back.
type BookingCreated struct {
	BookingID string `json:"bookingId"`
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
	Amount    int64  `json:"amount"`
}

// InventoryReserved is emitted by the inventory service after stock has been
// moved from available to reserved. It carries the booking amount forward so
// the payment service can charge without a lookup.
type InventoryReserved struct {
	BookingID     string `json:"bookingId"`
	ReservationID string `json:"reservationId"`
	ItemID        string `json:"itemId"`
	Quantity      int    `json:"quantity"`
	Amount        int64  `json:"amount"`
}

// InventoryReservationFailed is a business outcome, not an error: stock was
// insufficient or the item is unknown.
type InventoryReservationFailed struct {
	BookingID string `json:"bookingId"`
	ItemID    string `json:"itemId"`
	Reason    string `json:"reason"`
}

// InventoryReleased is emitted whenever reserved stock is returned to the
// available pool, by compensation or by TTL expiry.
type InventoryReleased struct {
	BookingID string `json:"bookingId"`
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// PaymentSucceeded fans out to both the booking service (confirm) and the
// inventory service (confirm reservation).
type PaymentSucceeded struct {
	BookingID     string `json:"bookingId"`
	PaymentID     string `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
}

// PaymentFailed fans out to both the booking service (cancel) and the
// inventory service (release).
type PaymentFailed struct {
	BookingID string `json:"bookingId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

// BookingCancelled is an audit event; no service consumes it to make
// decisions.
type BookingCancelled struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

// PaymentRetryFailed is the payload stored in the dead-letter record when a
// payment exhausts its manual retry budget.
type PaymentRetryFailed struct {
	BookingID  string `json:"bookingId"`
	PaymentID  string `json:"paymentId"`
	RetryCount int    `json:"retryCount"`
	Reason     string `json:"reason"`
}
