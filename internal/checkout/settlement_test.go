package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/repository"
)

// reserveFor is a test shortcut: one product line for the buyer,
// reserved through the orchestrator so the ledger and key pool are
// in the same state settlement sees in production.
func (h *harness) reserveFor(t *testing.T, buyerID uint64, quantity uint32) *Reservation {
	t.Helper()
	h.cart.set(buyerID, model.CartItem{ProductID: 1, Quantity: quantity})
	res, err := h.orc.Reserve(context.Background(), buyerID)
	require.NoError(t, err)
	return res
}

func TestSettle(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1", "AAA-2")
	res := h.reserveFor(t, 7, 2)

	stored, err := h.ledger.GetByBuyerTx(context.Background(), nil, 7)
	require.NoError(t, err)
	keyIDs := stored.KeyIDs()

	ord, err := h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, ord.PaymentStatus)
	assert.Equal(t, uint64(11800), ord.TotalCents)
	require.Len(t, ord.Items, 1)
	assert.Equal(t, "Pro License", ord.Items[0].ProductName)

	// Keys are bound to the order, never returned to the pool.
	for _, id := range keyIDs {
		bound := h.keys.boundTo(id)
		require.NotNil(t, bound)
		assert.Equal(t, ord.ID, *bound)
	}
	assert.Equal(t, uint32(2), h.catalog.decremented(1))

	_, err = h.ledger.GetByBuyerTx(context.Background(), nil, 7)
	assert.ErrorIs(t, err, repository.ErrNoActiveReservation)

	// Post-commit side effects run asynchronously.
	require.Eventually(t, func() bool {
		evs := h.pub.published()
		return len(evs) == 1 && len(evs[0].Products) == 1 && len(evs[0].Products[0].Keys) == 2
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		items, _ := h.cart.GetItems(context.Background(), 7)
		return len(items) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSettleTwiceIsIdempotent(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	res := h.reserveFor(t, 7, 1)

	first, err := h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1")
	require.NoError(t, err)

	second, err := h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1")
	assert.ErrorIs(t, err, repository.ErrAlreadySettled)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, h.orders.count())
	assert.Equal(t, uint32(1), h.catalog.decremented(1))
}

func TestSettleConcurrentDuplicates(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	res := h.reserveFor(t, 7, 1)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.orders.count())
}

func TestSettleIntentMismatch(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	h.reserveFor(t, 7, 1)

	_, err := h.settlement.Settle(context.Background(), 7, "order_other", "pay_1")
	assert.ErrorIs(t, err, ErrIntentMismatch)

	// Nothing settled; the reservation survives.
	assert.Equal(t, 0, h.orders.count())
	_, err = h.ledger.GetByBuyerTx(context.Background(), nil, 7)
	assert.NoError(t, err)
}

func TestSettleWithoutReservation(t *testing.T) {
	h := newHarness()
	_, err := h.settlement.Settle(context.Background(), 7, "order_A", "pay_1")
	assert.ErrorIs(t, err, repository.ErrNoActiveReservation)
}

func TestRecordFailure(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	res := h.reserveFor(t, 7, 1)
	assert.Equal(t, 0, h.keys.unsold(1))

	ord, err := h.settlement.RecordFailure(context.Background(), 7, res.IntentID, "pay_1", "card declined")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, ord.PaymentStatus)
	assert.Equal(t, "card declined", ord.FailureReason)

	// The keys went back to the pool and no stock was consumed.
	assert.Equal(t, 1, h.keys.unsold(1))
	assert.Equal(t, uint32(0), h.catalog.decremented(1))
	_, err = h.ledger.GetByBuyerTx(context.Background(), nil, 7)
	assert.ErrorIs(t, err, repository.ErrNoActiveReservation)
}

func TestRecordFailureAfterSettleLoses(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	res := h.reserveFor(t, 7, 1)

	ord, err := h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1")
	require.NoError(t, err)

	late, err := h.settlement.RecordFailure(context.Background(), 7, res.IntentID, "pay_1", "card declined")
	assert.ErrorIs(t, err, repository.ErrAlreadySettled)
	require.NotNil(t, late)
	assert.Equal(t, ord.ID, late.ID)
	assert.Equal(t, model.PaymentStatusSuccess, late.PaymentStatus)

	assert.Equal(t, 1, h.orders.count())
}

func TestReleaseOfSettledKeyIsNoOp(t *testing.T) {
	h := newHarness()
	h.catalog.prices[1] = 5000
	h.catalog.names[1] = "Pro License"
	h.keys.addKeys(1, "AAA-1")
	res := h.reserveFor(t, 7, 1)

	stored, err := h.ledger.GetByBuyerTx(context.Background(), nil, 7)
	require.NoError(t, err)
	keyIDs := stored.KeyIDs()

	_, err = h.settlement.Settle(context.Background(), 7, res.IntentID, "pay_1")
	require.NoError(t, err)

	// A release targeting a key that already belongs to an order must
	// touch nothing.
	released, err := h.keys.ReleaseTx(context.Background(), nil, keyIDs)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, 0, h.keys.unsold(1))
}
