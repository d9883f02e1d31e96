// Package checkout coordinates the quote -> reserve -> pay -> settle
// flow for digital product keys: it owns the reservation lifecycle
// (including expiry), validates payment callbacks and converts paid
// reservations into immutable orders.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/queue"
	"github.com/keymart/keymart/internal/repository"
)

// Errors raised by the orchestrator itself; persistence-level kinds
// live in the repository package.
var (
	// ErrEmptyCart is returned when a quote or reserve finds nothing
	// sellable in the buyer's cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrIntentMismatch is returned when a callback names a payment
	// intent that does not belong to the buyer's active reservation.
	ErrIntentMismatch = errors.New("payment intent does not match reservation")
)

// Store runs a function inside a database transaction.  The sql
// implementation rolls back on error; the in-memory test double
// simply invokes the function.
type Store interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// KeyStore is the claim/release/bind surface of the product key
// pool.  Claim must be atomic across concurrent callers for the same
// product.
type KeyStore interface {
	ClaimTx(ctx context.Context, tx *sql.Tx, productID uint64, quantity uint32) ([]uint64, error)
	ReleaseTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64) (int64, error)
	BindTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64, orderID uint64) error
	ValuesByIDsTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64) (map[uint64][]string, error)
}

// ReservationLedger stores the single active reservation per buyer.
type ReservationLedger interface {
	CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error
	GetByBuyerTx(ctx context.Context, tx *sql.Tx, buyerID uint64) (*model.Reservation, error)
	DeleteByBuyerTx(ctx context.Context, tx *sql.Tx, buyerID uint64) error
	SetIntent(ctx context.Context, buyerID uint64, intentID string) error
	ListDue(ctx context.Context, cutoff time.Time) ([]repository.DueReservation, error)
}

// OrderWriter records terminal checkout outcomes.
type OrderWriter interface {
	CreateTx(ctx context.Context, tx *sql.Tx, ord *model.Order) error
	GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error)
}

// Catalog is the pricing/stock collaborator.
type Catalog interface {
	GetUnitPrice(ctx context.Context, productID uint64) (uint64, error)
	NameTx(ctx context.Context, tx *sql.Tx, productID uint64) (string, error)
	DecrementStockTx(ctx context.Context, tx *sql.Tx, productID uint64, quantity uint32) error
}

// CartStore is the cart collaborator.
type CartStore interface {
	GetItems(ctx context.Context, buyerID uint64) ([]model.CartItem, error)
	Clear(ctx context.Context, buyerID uint64) error
}

// Notifier delivers a fire-and-forget message to the buyer.
// Failures are logged by implementations, never propagated.
type Notifier interface {
	Notify(ctx context.Context, buyerID uint64, message string)
}

// Publisher emits the settled-order event that drives key delivery.
type Publisher interface {
	PublishOrderSettled(ctx context.Context, ev queue.OrderSettledEvent) error
}
