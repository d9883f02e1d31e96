package model

import "time"

// Payment status values stored on orders.  An order is created in a
// terminal state by settlement (success) or by the failure path
// (failed); there is no in-place transition between the two.
const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// Order is the immutable record of a completed checkout attempt.
// Successful orders snapshot the reserved products, prices and the
// keys delivered; failed orders record the gateway's failure reason.
// The PaymentRef (the gateway intent id) is unique across orders and
// is the idempotency key for settlement.
//
// Fields:
//  ID            – primary key identifier.
//  BuyerID       – user who paid (or attempted to pay).
//  PaymentRef    – gateway intent id, unique.
//  PaymentID     – gateway payment id reported by the callback.
//  PaymentStatus – SUCCESS or FAILED.
//  FailureReason – reason reported on failed payments, empty otherwise.
//  TotalCents    – total charged in cents.
//  Items         – order_items snapshot rows.
//  CreatedAt     – creation timestamp.
type Order struct {
	ID            uint64      // orders.id
	BuyerID       uint64      // orders.buyer_id
	PaymentRef    string      // orders.payment_ref
	PaymentID     string      // orders.payment_id
	PaymentStatus string      // orders.payment_status
	FailureReason string      // orders.failure_reason
	TotalCents    uint64      // orders.total_cents
	Items         []OrderItem // order_items rows
	CreatedAt     time.Time   // orders.created_at
}

// OrderItem snapshots one purchased line.  Key values are not stored
// here; keys stay in product_keys and are linked by their order_id.
type OrderItem struct {
	ProductID      uint64 // order_items.product_id
	ProductName    string // order_items.product_name
	Quantity       uint32 // order_items.quantity
	UnitPriceCents uint64 // order_items.unit_price_cents
}
