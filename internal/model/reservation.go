package model

import "time"

// Reservation is a temporary, buyer-scoped hold on specific product
// keys pending payment.  A buyer has at most one reservation at a
// time; opening a new one first releases the old one.  The CreatedAt
// timestamp doubles as a staleness token: an expiry that captured a
// different CreatedAt than the stored row must treat itself as stale
// and do nothing.
//
// Fields:
//  ID         – primary key identifier.
//  BuyerID    – user the reservation belongs to.
//  IntentID   – payment intent created for this reservation, empty
//               until the gateway call succeeds.
//  TotalCents – quoted total including tax, in cents.
//  Items      – per-product lines with the keys claimed for each.
//  CreatedAt  – creation timestamp and staleness token.
type Reservation struct {
	ID         uint64            // reservations.id
	BuyerID    uint64            // reservations.buyer_id
	IntentID   string            // reservations.intent_id
	TotalCents uint64            // reservations.total_cents
	Items      []ReservationItem // reservation_items rows
	CreatedAt  time.Time         // reservations.created_at
}

// ReservationItem is one cart line frozen into a reservation: the
// product, the quantity, the authoritative unit price at quote time
// and the ids of the keys claimed for it.
type ReservationItem struct {
	ProductID      uint64   // reservation_items.product_id
	Quantity       uint32   // reservation_items.quantity
	UnitPriceCents uint64   // reservation_items.unit_price_cents
	KeyIDs         []uint64 // reservation_keys rows for this line
}

// KeyIDs flattens the claimed key ids of every line into one slice,
// in line order.  Used when releasing or binding a whole reservation.
func (r *Reservation) KeyIDs() []uint64 {
	var ids []uint64
	for _, it := range r.Items {
		ids = append(ids, it.KeyIDs...)
	}
	return ids
}
