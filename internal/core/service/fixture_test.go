package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/mall-checkout/internal/adapter/storage"
	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

// shop is the full core wired over the in-memory adapters.
type shop struct {
	catalog  *storage.MemoryCatalog
	carts    *storage.MemoryCartStore
	orders   *storage.MemoryOrderStore
	idem     *storage.MemoryIdempotencyStore
	logs     *observer.ObservedLogs
	checkout *CheckoutService
	cart     *CartService
	order    *OrderService
	products *CatalogService
}

type shopOption func(*shopDeps)

type shopDeps struct {
	stock  port.StockLedger
	orders port.OrderRepository
	carts  port.CartRepository
	idem   port.IdempotencyStore
}

func withStock(wrap func(port.StockLedger) port.StockLedger) shopOption {
	return func(d *shopDeps) { d.stock = wrap(d.stock) }
}

func withOrders(wrap func(port.OrderRepository) port.OrderRepository) shopOption {
	return func(d *shopDeps) { d.orders = wrap(d.orders) }
}

func withCarts(wrap func(port.CartRepository) port.CartRepository) shopOption {
	return func(d *shopDeps) { d.carts = wrap(d.carts) }
}

func withIdempotency(wrap func(port.IdempotencyStore) port.IdempotencyStore) shopOption {
	return func(d *shopDeps) { d.idem = wrap(d.idem) }
}

func newShop(t *testing.T, opts ...shopOption) *shop {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	s := &shop{
		catalog: storage.NewMemoryCatalog(),
		carts:   storage.NewMemoryCartStore(),
		orders:  storage.NewMemoryOrderStore(),
		idem:    storage.NewMemoryIdempotencyStore(),
		logs:    logs,
	}
	deps := &shopDeps{stock: s.catalog, orders: s.orders, carts: s.carts, idem: s.idem}
	for _, opt := range opts {
		opt(deps)
	}

	s.checkout = NewCheckoutService(deps.stock, NewCatalogPricing(s.catalog), deps.orders, deps.carts, deps.idem, log)
	s.cart = NewCartService(deps.carts, s.catalog, deps.stock, log)
	s.order = NewOrderService(deps.orders, deps.stock, log)
	s.products = NewCatalogService(s.catalog, deps.stock, log)
	return s
}

func (s *shop) addProduct(t *testing.T, name, price string, stock int) domain.Product {
	t.Helper()
	p, err := s.products.CreateProduct(context.Background(), domain.Product{
		Name:     name,
		Category: "test",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	})
	require.NoError(t, err)
	return p
}

func (s *shop) stockOf(t *testing.T, productID int64) int {
	t.Helper()
	n, err := s.catalog.CurrentStock(context.Background(), productID)
	require.NoError(t, err)
	return n
}

var errStoreDown = errors.New("store unavailable")

// failingOrders fails CreateOrder, or the status write of Transition after
// apply has run.
type failingOrders struct {
	port.OrderRepository
	failCreate     bool
	failTransition bool
}

func (f *failingOrders) CreateOrder(ctx context.Context, o domain.Order) error {
	if f.failCreate {
		return errStoreDown
	}
	return f.OrderRepository.CreateOrder(ctx, o)
}

func (f *failingOrders) Transition(ctx context.Context, id string, from, to domain.OrderStatus, apply port.TransitionFunc) (domain.Order, error) {
	if !f.failTransition {
		return f.OrderRepository.Transition(ctx, id, from, to, apply)
	}
	o, err := f.OrderRepository.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if apply != nil {
		if err := apply(ctx, o); err != nil {
			return domain.Order{}, err
		}
	}
	return domain.Order{}, errStoreDown
}

// countingLedger records calls and can fail releases.
type countingLedger struct {
	port.StockLedger
	mu          sync.Mutex
	reserves    int
	releases    int
	failRelease bool
}

func (c *countingLedger) Reserve(ctx context.Context, items []domain.Reservation) error {
	c.mu.Lock()
	c.reserves++
	c.mu.Unlock()
	return c.StockLedger.Reserve(ctx, items)
}

func (c *countingLedger) Release(ctx context.Context, items []domain.Reservation) error {
	c.mu.Lock()
	c.releases++
	fail := c.failRelease
	c.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return c.StockLedger.Release(ctx, items)
}

type failingCarts struct {
	port.CartRepository
}

func (f failingCarts) RemoveProducts(ctx context.Context, ownerID string, productIDs []int64) error {
	return errStoreDown
}

// cancelAfterCreate cancels the request context once the order is stored.
type cancelAfterCreate struct {
	port.OrderRepository
	cancel context.CancelFunc
}

func (c cancelAfterCreate) CreateOrder(ctx context.Context, o domain.Order) error {
	err := c.OrderRepository.CreateOrder(ctx, o)
	c.cancel()
	return err
}

// ctxBoundIdempotency refuses writes under a cancelled context like a
// network-backed store would.
type ctxBoundIdempotency struct {
	port.IdempotencyStore
}

func (c ctxBoundIdempotency) Complete(ctx context.Context, key, result string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.IdempotencyStore.Complete(ctx, key, result)
}
