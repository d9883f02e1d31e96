// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderSettledEvent is published when a paid reservation settles into
// an order. It carries the purchased key values so the delivery
// consumer can hand them to the buyer without querying the primary
// database; it must never be exposed on an HTTP surface.
type OrderSettledEvent struct {
	OrderID    uint64             `json:"order_id"`
	BuyerID    uint64             `json:"buyer_id"`
	PaymentRef string             `json:"payment_ref"`
	TotalCents uint64             `json:"total_cents"`
	SettledAt  string             `json:"settled_at"`
	Products   []DeliveredProduct `json:"products"`
}

// DeliveredProduct is one purchased line with its key secrets.
type DeliveredProduct struct {
	ProductID uint64   `json:"product_id"`
	Name      string   `json:"name"`
	Quantity  uint32   `json:"quantity"`
	Keys      []string `json:"keys"`
}
