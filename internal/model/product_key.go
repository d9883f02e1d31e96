package model

import "time"

// ProductKey is one sellable unit of a digital product: a unique
// secret license string.  Keys are loaded in bulk by an admin,
// flipped to sold when a checkout claims them and bound to an
// order once the payment settles.  A key is never deleted after
// it has been sold.
//
// Fields:
//  ID        – primary key identifier.
//  ProductID – product this key belongs to.
//  KeyValue  – the unique secret license string.
//  Sold      – true once a claim or settlement owns the key.
//  OrderID   – order the key was delivered under, nil until settled.
//  CreatedAt – creation timestamp.
type ProductKey struct {
	ID        uint64    // product_keys.id
	ProductID uint64    // product_keys.product_id
	KeyValue  string    // product_keys.key_value
	Sold      bool      // product_keys.sold
	OrderID   *uint64   // product_keys.order_id (nullable)
	CreatedAt time.Time // product_keys.created_at
}
