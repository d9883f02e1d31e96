package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/payment"
	"github.com/keymart/keymart/internal/repository"
)

// Checkout states surfaced to callers.
const (
	StateQuoting         = "QUOTING"
	StateAwaitingPayment = "AWAITING_PAYMENT"
	StateSettled         = "SETTLED"
	StateReleased        = "RELEASED"
)

// Orchestrator drives a buyer's checkout attempt through
// quote -> reserve -> awaiting payment -> settled/released.  It owns
// the reservation expiry: a fast-path timer per reservation plus a
// periodic sweep that re-derives due expiries from storage, so a
// process restart cannot leak locked keys.
type Orchestrator struct {
	store      Store
	keys       KeyStore
	ledger     ReservationLedger
	catalog    Catalog
	cart       CartStore
	gateway    payment.Gateway
	verifier   *payment.Verifier
	settlement *Settlement

	currency      string
	taxRateBP     uint64 // tax in basis points of the subtotal
	ttl           time.Duration
	sweepInterval time.Duration

	// afterFunc is swappable so tests can intercept the fast-path
	// expiry timer.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewOrchestrator wires the orchestrator.  ttl is the reservation
// lifetime; callers must have validated it against the client-side
// countdown already (config does this fatally at startup).
func NewOrchestrator(
	store Store,
	keys KeyStore,
	ledger ReservationLedger,
	catalog Catalog,
	cart CartStore,
	gateway payment.Gateway,
	verifier *payment.Verifier,
	settlement *Settlement,
	currency string,
	taxRateBP uint64,
	ttl, sweepInterval time.Duration,
) *Orchestrator {
	return &Orchestrator{
		store:         store,
		keys:          keys,
		ledger:        ledger,
		catalog:       catalog,
		cart:          cart,
		gateway:       gateway,
		verifier:      verifier,
		settlement:    settlement,
		currency:      currency,
		taxRateBP:     taxRateBP,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		afterFunc:     time.AfterFunc,
	}
}

// QuoteLine is one priced cart line.
type QuoteLine struct {
	ProductID      uint64 `json:"product_id"`
	Quantity       uint32 `json:"quantity"`
	UnitPriceCents uint64 `json:"unit_price_cents"`
}

// Quote is a priced snapshot of the buyer's cart using authoritative
// catalog prices.
type Quote struct {
	Lines         []QuoteLine `json:"lines"`
	SubtotalCents uint64      `json:"subtotal_cents"`
	TaxCents      uint64      `json:"tax_cents"`
	TotalCents    uint64      `json:"total_cents"`
	Currency      string      `json:"currency"`
}

// Reservation is the caller-facing result of a reserve call.
type Reservation struct {
	State      string          `json:"state"`
	IntentID   string          `json:"intent_id"`
	TotalCents uint64          `json:"total_cents"`
	Currency   string          `json:"currency"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Quote      *Quote          `json:"quote"`
	Intent     *payment.Intent `json:"-"`
}

// BuildQuote prices the buyer's current cart.  Every line must have
// an authoritative positive price; a single missing or non-positive
// price aborts the whole quote with ErrPriceUnavailable.
func (o *Orchestrator) BuildQuote(ctx context.Context, buyerID uint64) (*Quote, error) {
	items, err := o.cart.GetItems(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	q := &Quote{Currency: o.currency, Lines: make([]QuoteLine, 0, len(items))}
	for _, it := range items {
		price, err := o.catalog.GetUnitPrice(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, repository.ErrPriceUnavailable
			}
			return nil, err
		}
		q.Lines = append(q.Lines, QuoteLine{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: price,
		})
		q.SubtotalCents += price * uint64(it.Quantity)
	}
	q.TaxCents = q.SubtotalCents * o.taxRateBP / 10000
	q.TotalCents = q.SubtotalCents + q.TaxCents
	return q, nil
}

// Reserve opens a reservation for the buyer: it prices the cart,
// atomically claims keys for every line and asks the gateway for a
// payment intent.  An existing reservation for the buyer is released
// first, which is what lets an abandoned checkout be retried.  When
// any line cannot be fully claimed, the transaction rollback returns
// every key claimed earlier in the attempt.
func (o *Orchestrator) Reserve(ctx context.Context, buyerID uint64) (*Reservation, error) {
	quote, err := o.BuildQuote(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	res := &model.Reservation{BuyerID: buyerID, TotalCents: quote.TotalCents}
	err = o.store.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := o.ledger.GetByBuyerTx(ctx, tx, buyerID)
		switch {
		case err == nil:
			if _, err := o.keys.ReleaseTx(ctx, tx, existing.KeyIDs()); err != nil {
				return err
			}
			if err := o.ledger.DeleteByBuyerTx(ctx, tx, buyerID); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrNoActiveReservation):
			// nothing to replace
		default:
			return err
		}
		for _, line := range quote.Lines {
			keyIDs, err := o.keys.ClaimTx(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			res.Items = append(res.Items, model.ReservationItem{
				ProductID:      line.ProductID,
				Quantity:       line.Quantity,
				UnitPriceCents: line.UnitPriceCents,
				KeyIDs:         keyIDs,
			})
		}
		return o.ledger.CreateTx(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}

	// Fast-path expiry.  The sweep catches the same reservation from
	// storage if the process dies before this fires.
	o.scheduleExpiry(buyerID, res.CreatedAt)

	intent, err := o.gateway.CreateIntent(ctx, quote.TotalCents, o.currency, map[string]string{
		"buyer_id": strconv.FormatUint(buyerID, 10),
	})
	if err != nil {
		// The reservation stays so the buyer can retry payment
		// without re-claiming keys; the expiry bounds the damage.
		return nil, err
	}
	if err := o.ledger.SetIntent(ctx, buyerID, intent.ID); err != nil {
		return nil, err
	}
	return &Reservation{
		State:      StateAwaitingPayment,
		IntentID:   intent.ID,
		TotalCents: quote.TotalCents,
		Currency:   o.currency,
		ExpiresAt:  res.CreatedAt.Add(o.ttl),
		Quote:      quote,
		Intent:     intent,
	}, nil
}

// Confirm handles the buyer's browser-return confirmation: the
// signature over intent id and payment id is verified, then the
// reservation settles.  A repeat with the same intent returns the
// original order via the idempotency path.
func (o *Orchestrator) Confirm(ctx context.Context, buyerID uint64, intentID, paymentID, signature string) (*model.Order, error) {
	if err := o.verifier.VerifyConfirmation(intentID, paymentID, signature); err != nil {
		return nil, err
	}
	return o.settlement.Settle(ctx, buyerID, intentID, paymentID)
}

// WebhookOutcome reports what a verified webhook did, so the HTTP
// layer can answer 2xx on every acknowledged delivery.  Processed is
// true only when this delivery changed state; duplicates and
// unprocessable deliveries are acknowledged with Processed false.
type WebhookOutcome struct {
	Event     string
	OrderID   uint64
	Processed bool
}

// HandleWebhook processes an asynchronous gateway delivery.  The raw
// body is verified against the webhook secret before any decoding.
// Captured events settle, failed events release and record the
// failure, unknown events are acknowledged untouched.  A nil-error
// outcome with Processed false means the delivery was acknowledged
// without acting: a duplicate terminal callback, a reference that no
// longer has a reservation, or a verified body that can never be
// acted on no matter how often the gateway redelivers it.  Only
// signature failures and transient errors surface as errors.
func (o *Orchestrator) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookOutcome, error) {
	if err := o.verifier.VerifyWebhook(body, signature); err != nil {
		return nil, err
	}
	ev, err := payment.DecodeEvent(body)
	if err != nil {
		log.Printf("checkout: webhook dropped: %v", err)
		return &WebhookOutcome{Event: payment.EventIgnored}, nil
	}
	switch ev.Kind {
	case payment.EventCaptured:
		ord, err := o.settlement.Settle(ctx, ev.BuyerID, ev.IntentID, ev.PaymentID)
		if err != nil {
			if webhookAckable(err) {
				return &WebhookOutcome{Event: ev.Kind}, nil
			}
			return nil, err
		}
		return &WebhookOutcome{Event: ev.Kind, OrderID: ord.ID, Processed: true}, nil
	case payment.EventFailed:
		ord, err := o.settlement.RecordFailure(ctx, ev.BuyerID, ev.IntentID, ev.PaymentID, ev.Reason)
		if err != nil {
			if webhookAckable(err) {
				return &WebhookOutcome{Event: ev.Kind}, nil
			}
			return nil, err
		}
		return &WebhookOutcome{Event: ev.Kind, OrderID: ord.ID, Processed: true}, nil
	default:
		return &WebhookOutcome{Event: payment.EventIgnored}, nil
	}
}

// webhookAckable reports whether a settlement error is one that
// redelivering the same webhook can never change: the reference is
// already terminal, the reservation is gone, or the callback names an
// intent that does not belong to the buyer's reservation.
func webhookAckable(err error) bool {
	return errors.Is(err, repository.ErrAlreadySettled) ||
		errors.Is(err, repository.ErrAlreadyReleased) ||
		errors.Is(err, repository.ErrNoActiveReservation) ||
		errors.Is(err, ErrIntentMismatch)
}

// Cancel explicitly releases the buyer's reservation.
func (o *Orchestrator) Cancel(ctx context.Context, buyerID uint64) error {
	return o.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := o.ledger.GetByBuyerTx(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if _, err := o.keys.ReleaseTx(ctx, tx, res.KeyIDs()); err != nil {
			return err
		}
		return o.ledger.DeleteByBuyerTx(ctx, tx, buyerID)
	})
}

// scheduleExpiry arms the in-process timer for one reservation.  The
// captured CreatedAt is the staleness token: if the buyer has opened
// a newer reservation by the time the timer fires, Expire sees a
// different timestamp and does nothing.
func (o *Orchestrator) scheduleExpiry(buyerID uint64, createdAt time.Time) {
	o.afterFunc(o.ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Expire(ctx, buyerID, createdAt); err != nil {
			log.Printf("checkout: expire buyer=%d failed: %v", buyerID, err)
		}
	})
}

// Expire releases the buyer's reservation if and only if it is still
// the one identified by createdAt.  A mismatch means a newer
// reservation replaced the one this expiry was armed for, and the
// expiry is a stale no-op.  An absent reservation is equally a
// no-op: settlement or cancel got there first.
func (o *Orchestrator) Expire(ctx context.Context, buyerID uint64, createdAt time.Time) error {
	return o.store.InTx(ctx, func(tx *sql.Tx) error {
		res, err := o.ledger.GetByBuyerTx(ctx, tx, buyerID)
		if errors.Is(err, repository.ErrNoActiveReservation) {
			return nil
		}
		if err != nil {
			return err
		}
		if !res.CreatedAt.Equal(createdAt) {
			return nil
		}
		if _, err := o.keys.ReleaseTx(ctx, tx, res.KeyIDs()); err != nil {
			return err
		}
		return o.ledger.DeleteByBuyerTx(ctx, tx, buyerID)
	})
}

// ExpireDue releases every reservation whose deadline has passed,
// re-deriving the due set from storage.  Returns the number of
// reservations expired.
func (o *Orchestrator) ExpireDue(ctx context.Context) (int, error) {
	due, err := o.ledger.ListDue(ctx, time.Now().UTC().Add(-o.ttl))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, d := range due {
		if err := o.Expire(ctx, d.BuyerID, d.CreatedAt); err != nil {
			return expired, fmt.Errorf("expire buyer %d: %w", d.BuyerID, err)
		}
		expired++
	}
	return expired, nil
}

// RunSweeper periodically invokes ExpireDue until the context is
// cancelled.  Run it in its own goroutine from main.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := o.ExpireDue(ctx); err != nil {
				log.Printf("checkout: sweep failed after %d expiries: %v", n, err)
			} else if n > 0 {
				log.Printf("checkout: sweep expired %d reservations", n)
			}
		}
	}
}
