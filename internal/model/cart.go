package model

// CartItem is one line of a buyer's cart.  Carts only store product
// and quantity; prices are always resolved from the catalog at quote
// time so a stale or tampered client price can never reach checkout.
type CartItem struct {
	ProductID uint64 // cart_items.product_id
	Quantity  uint32 // cart_items.quantity
}
