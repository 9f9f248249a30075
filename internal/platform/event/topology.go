package event

// Exchange is the single durable topic exchange all saga events flow through.
const Exchange = "booking.saga"

// Queue names. Events with two consumer services get one queue per service
// bound to the same routing key; a shared queue would make the services
// competing consumers and each message would reach only one of them.
const (
	QueueBookingCreated             = "booking_created"
	QueueInventoryReserved          = "inventory_reserved"
	QueueInventoryReservationFailed = "inventory_reservation_failed"
	QueuePaymentSucceededBooking    = "payment_succeeded.booking"
	QueuePaymentSucceededInventory  = "payment_succeeded.inventory"
	QueuePaymentFailedBooking       = "payment_failed.booking"
	QueuePaymentFailedInventory     = "payment_failed.inventory"
	QueueInventoryReleased          = "inventory_released"
	QueueBookingCancelled           = "booking_cancelled"
)

// QueueSpec declares one durable queue and its binding on the saga exchange.
// DLQ marks queues whose consumers route poison and retry-exhausted messages
// to a companion dead-letter queue.
type QueueSpec struct {
	Name       string
	RoutingKey string
	DLQ        bool
}

// Topology is the complete broker layout. Every service declares all of it
// idempotently on connect so startup order does not matter.
var Topology = []QueueSpec{
	{Name: QueueBookingCreated, RoutingKey: "booking_created", DLQ: true},
	{Name: QueueInventoryReserved, RoutingKey: "inventory_reserved", DLQ: true},
	{Name: QueueInventoryReservationFailed, RoutingKey: "inventory_reservation_failed", DLQ: true},
	{Name: QueuePaymentSucceededBooking, RoutingKey: "payment_succeeded", DLQ: true},
	{Name: QueuePaymentSucceededInventory, RoutingKey: "payment_succeeded", DLQ: true},
	{Name: QueuePaymentFailedBooking, RoutingKey: "payment_failed", DLQ: true},
	{Name: QueuePaymentFailedInventory, RoutingKey: "payment_failed", DLQ: true},
	{Name: QueueInventoryReleased, RoutingKey: "inventory_released", DLQ: false},
	{Name: QueueBookingCancelled, RoutingKey: "booking_cancelled", DLQ: false},
}

// DLQName returns the dead-letter queue paired with a consumed queue.
func DLQName(queue string) string {
	return queue + "_dlq"
}
