package model

import "time"

// Product carries the slice of the catalog the checkout core needs:
// the authoritative unit price and the stock counter that settlement
// decrements.  Catalog management itself lives outside this service.
type Product struct {
	ID         uint64    // products.id
	Name       string    // products.name
	PriceCents uint64    // products.price_cents
	InStock    uint32    // products.in_stock
	CreatedAt  time.Time // products.created_at
}
