package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/queue"
	"github.com/keymart/keymart/internal/repository"
)

// Settlement converts verified payment outcomes into immutable
// orders.  Settle and RecordFailure are both idempotent on the
// payment reference: whichever terminal outcome lands first wins,
// and the loser gets ErrAlreadySettled or ErrAlreadyReleased with
// the original order attached.
type Settlement struct {
	store     Store
	keys      KeyStore
	ledger    ReservationLedger
	orders    OrderWriter
	catalog   Catalog
	cart      CartStore
	publisher Publisher
	notifier  Notifier
}

// NewSettlement wires a Settlement.
func NewSettlement(
	store Store,
	keys KeyStore,
	ledger ReservationLedger,
	orders OrderWriter,
	catalog Catalog,
	cart CartStore,
	publisher Publisher,
	notifier Notifier,
) *Settlement {
	return &Settlement{
		store:     store,
		keys:      keys,
		ledger:    ledger,
		orders:    orders,
		catalog:   catalog,
		cart:      cart,
		publisher: publisher,
		notifier:  notifier,
	}
}

// Settle closes the buyer's reservation into a successful order:
// snapshot the items, bind every claimed key to the order, decrement
// stock, delete the reservation, and asynchronously clear the cart,
// publish the delivery event and notify the buyer.  Invoked twice
// with the same paymentRef it performs the work exactly once; the
// duplicate gets the existing order with ErrAlreadySettled, which
// callers on the webhook surface translate to success.
func (s *Settlement) Settle(ctx context.Context, buyerID uint64, paymentRef, paymentID string) (*model.Order, error) {
	if existing, err := s.terminal(ctx, paymentRef); err != nil {
		return existing, err
	}
	ord := &model.Order{
		BuyerID:       buyerID,
		PaymentRef:    paymentRef,
		PaymentID:     paymentID,
		PaymentStatus: model.PaymentStatusSuccess,
	}
	var delivered map[uint64][]string
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := s.ledger.GetByBuyerTx(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if res.IntentID != "" && res.IntentID != paymentRef {
			return ErrIntentMismatch
		}
		ord.TotalCents = res.TotalCents
		for _, it := range res.Items {
			name, err := s.catalog.NameTx(ctx, tx, it.ProductID)
			if err != nil {
				return err
			}
			ord.Items = append(ord.Items, model.OrderItem{
				ProductID:      it.ProductID,
				ProductName:    name,
				Quantity:       it.Quantity,
				UnitPriceCents: it.UnitPriceCents,
			})
		}
		// The unique payment_ref index makes this insert the loser's
		// exit on a concurrent duplicate callback.
		if err := s.orders.CreateTx(ctx, tx, ord); err != nil {
			return err
		}
		keyIDs := res.KeyIDs()
		if err := s.keys.BindTx(ctx, tx, keyIDs, ord.ID); err != nil {
			return err
		}
		for _, it := range res.Items {
			if err := s.catalog.DecrementStockTx(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		delivered, err = s.keys.ValuesByIDsTx(ctx, tx, keyIDs)
		if err != nil {
			return err
		}
		return s.ledger.DeleteByBuyerTx(ctx, tx, buyerID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) {
			// Lost the insert race; hand back the winner's order.
			if winner, lookupErr := s.orders.GetByPaymentRef(ctx, paymentRef); lookupErr == nil {
				return winner, err
			}
		}
		return nil, err
	}
	go s.afterSettle(ord, delivered)
	return ord, nil
}

// RecordFailure writes the failed order row for a payment and
// releases the buyer's reservation so the keys return to the pool.
// Like Settle it is idempotent on paymentRef; if a success already
// settled this reference, the failure callback loses with
// ErrAlreadySettled.
func (s *Settlement) RecordFailure(ctx context.Context, buyerID uint64, paymentRef, paymentID, reason string) (*model.Order, error) {
	if existing, err := s.terminal(ctx, paymentRef); err != nil {
		return existing, err
	}
	ord := &model.Order{
		BuyerID:       buyerID,
		PaymentRef:    paymentRef,
		PaymentID:     paymentID,
		PaymentStatus: model.PaymentStatusFailed,
		FailureReason: reason,
	}
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := s.ledger.GetByBuyerTx(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if res.IntentID != "" && res.IntentID != paymentRef {
			return ErrIntentMismatch
		}
		ord.TotalCents = res.TotalCents
		for _, it := range res.Items {
			name, err := s.catalog.NameTx(ctx, tx, it.ProductID)
			if err != nil {
				return err
			}
			ord.Items = append(ord.Items, model.OrderItem{
				ProductID:      it.ProductID,
				ProductName:    name,
				Quantity:       it.Quantity,
				UnitPriceCents: it.UnitPriceCents,
			})
		}
		if err := s.orders.CreateTx(ctx, tx, ord); err != nil {
			return err
		}
		if _, err := s.keys.ReleaseTx(ctx, tx, res.KeyIDs()); err != nil {
			return err
		}
		return s.ledger.DeleteByBuyerTx(ctx, tx, buyerID)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(context.Background(), buyerID,
		fmt.Sprintf("Your payment for order reference %s failed: %s. The reserved keys have been released.", paymentRef, reason))
	return ord, nil
}

// terminal reports whether a terminal outcome already exists for the
// payment reference.  It returns (order, ErrAlreadySettled) or
// (order, ErrAlreadyReleased) when one does, and (nil, nil) when the
// reference is still open.
func (s *Settlement) terminal(ctx context.Context, paymentRef string) (*model.Order, error) {
	existing, err := s.orders.GetByPaymentRef(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if existing.PaymentStatus == model.PaymentStatusSuccess {
		return existing, repository.ErrAlreadySettled
	}
	return existing, repository.ErrAlreadyReleased
}

// afterSettle performs the post-commit side effects: cart clearing,
// the delivery event and the buyer notification.  None of these may
// fail the settlement, so errors are logged and dropped.
func (s *Settlement) afterSettle(ord *model.Order, delivered map[uint64][]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.cart.Clear(ctx, ord.BuyerID); err != nil {
		log.Printf("settlement: clear cart buyer=%d: %v", ord.BuyerID, err)
	}
	ev := queue.OrderSettledEvent{
		OrderID:    ord.ID,
		BuyerID:    ord.BuyerID,
		PaymentRef: ord.PaymentRef,
		TotalCents: ord.TotalCents,
		SettledAt:  ord.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, it := range ord.Items {
		ev.Products = append(ev.Products, queue.DeliveredProduct{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			Keys:      delivered[it.ProductID],
		})
	}
	if err := s.publisher.PublishOrderSettled(ctx, ev); err != nil {
		log.Printf("settlement: publish order=%d: %v", ord.ID, err)
	}
	s.notifier.Notify(ctx, ord.BuyerID,
		fmt.Sprintf("Your payment of %d cents succeeded. Order %d is settled and your keys are on the way.", ord.TotalCents, ord.ID))
}
