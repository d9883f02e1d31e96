package checkout

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/keymart/keymart/internal/model"
	"github.com/keymart/keymart/internal/payment"
	"github.com/keymart/keymart/internal/queue"
	"github.com/keymart/keymart/internal/repository"
)

var errFakeGateway = errors.New("fake gateway down")

// fakeStore satisfies Store without a database; the transaction
// handle stays nil because the fakes below keep their own state.
type fakeStore struct{}

func (fakeStore) InTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

type fakeKey struct {
	id      uint64
	value   string
	sold    bool
	orderID *uint64
}

// fakeKeyStore is an in-memory key pool with the same claim
// semantics as the database table: a claim either takes exactly the
// requested quantity or takes nothing.
type fakeKeyStore struct {
	mu     sync.Mutex
	nextID uint64
	pools  map[uint64][]*fakeKey // productID -> keys
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{pools: map[uint64][]*fakeKey{}}
}

func (f *fakeKeyStore) addKeys(productID uint64, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.nextID++
		f.pools[productID] = append(f.pools[productID], &fakeKey{id: f.nextID, value: v})
	}
}

func (f *fakeKeyStore) ClaimTx(_ context.Context, _ *sql.Tx, productID uint64, quantity uint32) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var free []*fakeKey
	for _, k := range f.pools[productID] {
		if !k.sold {
			free = append(free, k)
		}
	}
	if uint32(len(free)) < quantity {
		return nil, repository.ErrInsufficientStock
	}
	ids := make([]uint64, 0, quantity)
	for _, k := range free[:quantity] {
		k.sold = true
		ids = append(ids, k.id)
	}
	return ids, nil
}

func (f *fakeKeyStore) ReleaseTx(_ context.Context, _ *sql.Tx, keyIDs []uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var released int64
	for _, pool := range f.pools {
		for _, k := range pool {
			for _, id := range keyIDs {
				if k.id == id && k.orderID == nil && k.sold {
					k.sold = false
					released++
				}
			}
		}
	}
	return released, nil
}

func (f *fakeKeyStore) BindTx(_ context.Context, _ *sql.Tx, keyIDs []uint64, orderID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pool := range f.pools {
		for _, k := range pool {
			for _, id := range keyIDs {
				if k.id == id {
					oid := orderID
					k.orderID = &oid
				}
			}
		}
	}
	return nil
}

func (f *fakeKeyStore) ValuesByIDsTx(_ context.Context, _ *sql.Tx, keyIDs []uint64) (map[uint64][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uint64][]string{}
	for productID, pool := range f.pools {
		for _, k := range pool {
			for _, id := range keyIDs {
				if k.id == id {
					out[productID] = append(out[productID], k.value)
				}
			}
		}
	}
	return out, nil
}

// unsold counts available keys for assertions.
func (f *fakeKeyStore) unsold(productID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.pools[productID] {
		if !k.sold {
			n++
		}
	}
	return n
}

func (f *fakeKeyStore) boundTo(keyID uint64) *uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pool := range f.pools {
		for _, k := range pool {
			if k.id == keyID {
				return k.orderID
			}
		}
	}
	return nil
}

// fakeLedger keeps one reservation per buyer like the database
// unique index does.
type fakeLedger struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.Reservation // buyerID -> reservation
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{byID: map[uint64]*model.Reservation{}}
}

func (f *fakeLedger) CreateTx(_ context.Context, _ *sql.Tx, res *model.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	res.ID = f.nextID
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	cp := *res
	f.byID[res.BuyerID] = &cp
	return nil
}

// setCreatedAt backdates a stored reservation for sweep tests.
func (f *fakeLedger) setCreatedAt(buyerID uint64, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.byID[buyerID]; ok {
		res.CreatedAt = t
	}
}

func (f *fakeLedger) GetByBuyerTx(_ context.Context, _ *sql.Tx, buyerID uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.byID[buyerID]
	if !ok {
		return nil, repository.ErrNoActiveReservation
	}
	cp := *res
	return &cp, nil
}

func (f *fakeLedger) DeleteByBuyerTx(_ context.Context, _ *sql.Tx, buyerID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, buyerID)
	return nil
}

func (f *fakeLedger) SetIntent(_ context.Context, buyerID uint64, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.byID[buyerID]; ok {
		res.IntentID = intentID
	}
	return nil
}

func (f *fakeLedger) ListDue(_ context.Context, cutoff time.Time) ([]repository.DueReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []repository.DueReservation
	for _, res := range f.byID {
		if !res.CreatedAt.After(cutoff) {
			due = append(due, repository.DueReservation{BuyerID: res.BuyerID, CreatedAt: res.CreatedAt})
		}
	}
	return due, nil
}

// fakeOrders enforces payment_ref uniqueness the way the table's
// unique index does, returning the terminal-outcome sentinels on a
// duplicate insert.
type fakeOrders struct {
	mu     sync.Mutex
	nextID uint64
	byRef  map[string]*model.Order
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byRef: map[string]*model.Order{}}
}

func (f *fakeOrders) CreateTx(_ context.Context, _ *sql.Tx, ord *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byRef[ord.PaymentRef]; ok {
		if existing.PaymentStatus == model.PaymentStatusSuccess {
			return repository.ErrAlreadySettled
		}
		return repository.ErrAlreadyReleased
	}
	f.nextID++
	ord.ID = f.nextID
	ord.CreatedAt = time.Now().UTC()
	cp := *ord
	f.byRef[ord.PaymentRef] = &cp
	return nil
}

func (f *fakeOrders) GetByPaymentRef(_ context.Context, paymentRef string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ord, ok := f.byRef[paymentRef]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *ord
	return &cp, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byRef)
}

// fakeCatalog serves prices and names from maps and counts stock
// decrements.
type fakeCatalog struct {
	mu         sync.Mutex
	prices     map[uint64]uint64
	names      map[uint64]string
	decrements map[uint64]uint32
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		prices:     map[uint64]uint64{},
		names:      map[uint64]string{},
		decrements: map[uint64]uint32{},
	}
}

func (f *fakeCatalog) GetUnitPrice(_ context.Context, productID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[productID]
	if !ok {
		return 0, repository.ErrProductNotFound
	}
	if price == 0 {
		return 0, repository.ErrPriceUnavailable
	}
	return price, nil
}

func (f *fakeCatalog) NameTx(_ context.Context, _ *sql.Tx, productID uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[productID]
	if !ok {
		return "", repository.ErrProductNotFound
	}
	return name, nil
}

func (f *fakeCatalog) DecrementStockTx(_ context.Context, _ *sql.Tx, productID uint64, quantity uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrements[productID] += quantity
	return nil
}

func (f *fakeCatalog) decremented(productID uint64) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decrements[productID]
}

type fakeCart struct {
	mu    sync.Mutex
	items map[uint64][]model.CartItem
}

func newFakeCart() *fakeCart {
	return &fakeCart{items: map[uint64][]model.CartItem{}}
}

func (f *fakeCart) GetItems(_ context.Context, buyerID uint64) ([]model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CartItem(nil), f.items[buyerID]...), nil
}

func (f *fakeCart) Clear(_ context.Context, buyerID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, buyerID)
	return nil
}

func (f *fakeCart) set(buyerID uint64, items ...model.CartItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[buyerID] = items
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ uint64, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.OrderSettledEvent
}

func (f *fakePublisher) PublishOrderSettled(_ context.Context, ev queue.OrderSettledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []queue.OrderSettledEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.OrderSettledEvent(nil), f.events...)
}

// fakeGateway hands out sequential intent ids, or fails when told to.
type fakeGateway struct {
	mu      sync.Mutex
	n       int
	fail    bool
	intents []*payment.Intent
}

func (f *fakeGateway) CreateIntent(_ context.Context, amountCents uint64, currency string, _ map[string]string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errFakeGateway
	}
	f.n++
	in := &payment.Intent{
		ID:          "order_" + string(rune('A'+f.n-1)),
		AmountCents: amountCents,
		Currency:    currency,
	}
	f.intents = append(f.intents, in)
	return in, nil
}

// harness bundles the fakes with a fully wired orchestrator.
type harness struct {
	keys     *fakeKeyStore
	ledger   *fakeLedger
	orders   *fakeOrders
	catalog  *fakeCatalog
	cart     *fakeCart
	notifier *fakeNotifier
	pub      *fakePublisher
	gateway  *fakeGateway

	verifier   *payment.Verifier
	settlement *Settlement
	orc        *Orchestrator

	// timers records the expiry callbacks armed by Reserve so tests
	// can fire them deterministically.
	mu     sync.Mutex
	timers []func()
}

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func newHarness() *harness {
	h := &harness{
		keys:     newFakeKeyStore(),
		ledger:   newFakeLedger(),
		orders:   newFakeOrders(),
		catalog:  newFakeCatalog(),
		cart:     newFakeCart(),
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		gateway:  &fakeGateway{},
		verifier: payment.NewVerifier(testKeySecret, testWebhookSecret),
	}
	store := fakeStore{}
	h.settlement = NewSettlement(store, h.keys, h.ledger, h.orders, h.catalog, h.cart, h.pub, h.notifier)
	h.orc = NewOrchestrator(
		store, h.keys, h.ledger, h.catalog, h.cart,
		h.gateway, h.verifier, h.settlement,
		"INR", 1800, 4*time.Minute, 30*time.Second,
	)
	h.orc.afterFunc = func(_ time.Duration, fn func()) *time.Timer {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.timers = append(h.timers, fn)
		return nil
	}
	return h
}

// fireTimers runs every armed expiry callback synchronously.
func (h *harness) fireTimers() {
	h.mu.Lock()
	timers := h.timers
	h.timers = nil
	h.mu.Unlock()
	for _, fn := range timers {
		fn()
	}
}
