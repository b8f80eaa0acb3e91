package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

func TestCheckout_CartOfTwoAtTen(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	b := s.addProduct(t, "ProductB", "10", 5)

	_, err := s.cart.AddItem(ctx, "alice", b.ID, 2)
	require.NoError(t, err)

	order, err := s.checkout.CheckoutCart(ctx, "alice", "123 Main St", "")
	require.NoError(t, err)

	assert.True(t, order.Total.Equal(decimal.NewFromInt(20)), "total = %s", order.Total)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "123 Main St", order.ShippingAddress)
	assert.NotEmpty(t, order.ID)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "ProductB", order.Lines[0].ProductName)

	items, err := s.cart.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 3, s.stockOf(t, b.ID))
}

func TestCheckout_LastUnitRace(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	a := s.addProduct(t, "ProductA", "5", 1)

	var wg sync.WaitGroup
	results := make(map[string]error)
	var mu sync.Mutex
	for _, owner := range []string{"X", "Y"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := s.checkout.Checkout(ctx, owner, "1 Race St", []domain.Reservation{{ProductID: a.ID, Quantity: 1}}, "")
			mu.Lock()
			results[owner] = err
			mu.Unlock()
		}(owner)
	}
	wg.Wait()

	var failures []error
	for _, err := range results {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one checkout must win")

	de, ok := domain.AsError(failures[0])
	require.True(t, ok)
	assert.Equal(t, domain.CodeInsufficientStock, de.Code)
	id, _ := de.ProductID()
	available, _ := de.Available()
	assert.Equal(t, a.ID, id)
	assert.Equal(t, 0, available)
	assert.Equal(t, 0, s.stockOf(t, a.ID))
}

func TestCheckout_AtomicOnShortfall(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	a := s.addProduct(t, "A", "1.50", 5)
	b := s.addProduct(t, "B", "2.00", 1)
	c := s.addProduct(t, "C", "3.00", 0)

	_, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{
		{ProductID: c.ID, Quantity: 1},
		{ProductID: a.ID, Quantity: 2},
		{ProductID: b.ID, Quantity: 2},
	}, "")
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	// the lowest failing product id is reported
	de, _ := domain.AsError(err)
	id, _ := de.ProductID()
	assert.Equal(t, b.ID, id)

	assert.Equal(t, 5, s.stockOf(t, a.ID))
	assert.Equal(t, 1, s.stockOf(t, b.ID))
	assert.Equal(t, 0, s.stockOf(t, c.ID))

	page, _ := s.order.ListMine(ctx, "alice", domain.PageRequest{})
	assert.Zero(t, page.TotalItems)
}

func TestCheckout_ProductNotFound(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	a := s.addProduct(t, "A", "1", 5)

	_, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: 4040, Quantity: 1},
	}, "")
	require.True(t, errors.Is(err, domain.ErrProductNotFound))
	de, _ := domain.AsError(err)
	id, _ := de.ProductID()
	assert.Equal(t, int64(4040), id)
	assert.Equal(t, 5, s.stockOf(t, a.ID))
}

func TestCheckout_ValidationTouchesNoLedger(t *testing.T) {
	ledger := &countingLedger{}
	s := newShop(t, withStock(func(l port.StockLedger) port.StockLedger {
		ledger.StockLedger = l
		return ledger
	}))
	a := s.addProduct(t, "A", "1", 5)

	tests := []struct {
		name    string
		address string
		lines   []domain.Reservation
		want    error
	}{
		{"no lines", "1 Main St", nil, domain.ErrEmptyCart},
		{"blank address", "   ", []domain.Reservation{{ProductID: a.ID, Quantity: 1}}, domain.ErrInvalidAddress},
		{"zero quantity", "1 Main St", []domain.Reservation{{ProductID: a.ID, Quantity: 0}}, domain.ErrInvalidQuantity},
		{"negative quantity", "1 Main St", []domain.Reservation{{ProductID: a.ID, Quantity: 2}, {ProductID: a.ID, Quantity: -1}}, domain.ErrInvalidQuantity},
		{"wrapping duplicates", "1 Main St", []domain.Reservation{{ProductID: a.ID, Quantity: math.MaxInt}, {ProductID: a.ID, Quantity: math.MaxInt}}, domain.ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.checkout.Checkout(context.Background(), "alice", tt.address, tt.lines, "")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Zero(t, ledger.reserves)
	assert.Equal(t, 5, s.stockOf(t, a.ID))
}

func TestCheckout_OversizedDuplicatesReportRequestedProduct(t *testing.T) {
	s := newShop(t)
	a := s.addProduct(t, "A", "1", 5)

	_, err := s.checkout.Checkout(context.Background(), "alice", "1 Main St", []domain.Reservation{
		{ProductID: a.ID, Quantity: math.MaxInt},
		{ProductID: a.ID, Quantity: math.MaxInt},
	}, "")
	de, ok := domain.AsError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, domain.CodeInvalidQuantity, de.Code)
	id, _ := de.ProductID()
	assert.Equal(t, a.ID, id)
	assert.Equal(t, domain.MaxLineQuantity, de.Details["limit"])
	assert.NotContains(t, de.Message, "-")
	assert.Equal(t, 5, s.stockOf(t, a.ID))
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := newShop(t)
	_, err := s.checkout.CheckoutCart(context.Background(), "nobody", "1 Main St", "")
	assert.True(t, errors.Is(err, domain.ErrEmptyCart))
}

func TestCheckout_NoOversellUnderLoad(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	initialStock := 25
	a := s.addProduct(t, "A", "1", initialStock)
	b := s.addProduct(t, "B", "1", 1000)

	var sold atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := i%3 + 1
			order, err := s.checkout.Checkout(ctx, fmt.Sprintf("user-%d", i), "1 Load St", []domain.Reservation{
				{ProductID: b.ID, Quantity: 1},
				{ProductID: a.ID, Quantity: qty},
			}, "")
			if err == nil {
				sold.Add(int32(order.Lines[0].Quantity))
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, int(sold.Load()), initialStock)
	assert.Equal(t, initialStock-int(sold.Load()), s.stockOf(t, a.ID))
}

func TestCheckout_PriceIsFrozen(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	p := s.addProduct(t, "Lamp", "19.99", 10)

	order, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{{ProductID: p.ID, Quantity: 3}}, "")
	require.NoError(t, err)
	assert.Equal(t, "59.97", order.Total.StringFixed(2))

	p.Price = decimal.RequireFromString("99.00")
	_, err = s.products.UpdateProduct(ctx, p)
	require.NoError(t, err)

	stored, err := s.order.Get(ctx, port.Principal{UserID: "alice"}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "59.97", stored.Total.StringFixed(2))
	assert.Equal(t, "19.99", stored.Lines[0].UnitPrice.StringFixed(2))
}

func TestCheckout_MergesDuplicateLines(t *testing.T) {
	s := newShop(t)
	p := s.addProduct(t, "A", "2", 10)

	order, err := s.checkout.Checkout(context.Background(), "alice", "1 Main St", []domain.Reservation{
		{ProductID: p.ID, Quantity: 1},
		{ProductID: p.ID, Quantity: 2},
	}, "")
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.Equal(t, 7, s.stockOf(t, p.ID))
}

func TestCheckout_ReleasesStockWhenOrderCannotBePersisted(t *testing.T) {
	s := newShop(t, withOrders(func(o port.OrderRepository) port.OrderRepository {
		return &failingOrders{OrderRepository: o, failCreate: true}
	}))
	p := s.addProduct(t, "A", "2", 4)

	_, err := s.checkout.Checkout(context.Background(), "alice", "1 Main St", []domain.Reservation{{ProductID: p.ID, Quantity: 3}}, "")
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 4, s.stockOf(t, p.ID))
	assert.Equal(t, 1, s.logs.FilterMessage("checkout rolled back").Len())
}

func TestCheckout_FailedReleaseIsLoggedCritical(t *testing.T) {
	ledger := &countingLedger{failRelease: true}
	s := newShop(t,
		withStock(func(l port.StockLedger) port.StockLedger {
			ledger.StockLedger = l
			return ledger
		}),
		withOrders(func(o port.OrderRepository) port.OrderRepository {
			return &failingOrders{OrderRepository: o, failCreate: true}
		}),
	)
	p := s.addProduct(t, "A", "2", 4)

	_, err := s.checkout.Checkout(context.Background(), "alice", "1 Main St", []domain.Reservation{{ProductID: p.ID, Quantity: 1}}, "")
	require.Error(t, err)

	entries := s.logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "CRITICAL")
}

func TestCheckout_CartDrainFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newShop(t, withCarts(func(c port.CartRepository) port.CartRepository {
		return failingCarts{CartRepository: c}
	}))
	p := s.addProduct(t, "A", "2", 4)
	_, err := s.cart.AddItem(ctx, "alice", p.ID, 1)
	require.NoError(t, err)

	order, err := s.checkout.CheckoutCart(ctx, "alice", "1 Main St", "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 1, s.logs.FilterMessage("failed to drain cart after checkout").Len())
}

func TestCheckout_OnlyCheckedOutProductsLeaveTheCart(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	a := s.addProduct(t, "A", "1", 5)
	b := s.addProduct(t, "B", "1", 5)
	_, _ = s.cart.AddItem(ctx, "alice", a.ID, 1)
	_, _ = s.cart.AddItem(ctx, "alice", b.ID, 1)

	_, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{{ProductID: a.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	items, _ := s.cart.List(ctx, "alice")
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ProductID)
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	p := s.addProduct(t, "A", "1", 5)
	lines := []domain.Reservation{{ProductID: p.ID, Quantity: 2}}

	first, err := s.checkout.Checkout(ctx, "alice", "1 Main St", lines, "key-1")
	require.NoError(t, err)
	retry, err := s.checkout.Checkout(ctx, "alice", "1 Main St", lines, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)
	assert.Equal(t, 3, s.stockOf(t, p.ID))

	// keys are scoped per owner
	other, err := s.checkout.Checkout(ctx, "bob", "1 Main St", lines, "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, acquired, _ := s.idem.Acquire(ctx, "alice:in-flight")
	require.True(t, acquired)
	_, err = s.checkout.Checkout(ctx, "alice", "1 Main St", lines, "in-flight")
	assert.True(t, errors.Is(err, domain.ErrDuplicateRequest))
}

func TestCheckout_FailedAttemptFreesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	p := s.addProduct(t, "A", "1", 1)

	_, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{{ProductID: p.ID, Quantity: 2}}, "key-2")
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = s.products.AdjustStock(ctx, p.ID, 1)
	require.NoError(t, err)

	order, err := s.checkout.Checkout(ctx, "alice", "1 Main St", []domain.Reservation{{ProductID: p.ID, Quantity: 2}}, "key-2")
	require.NoError(t, err)
	assert.Equal(t, 2, order.Lines[0].Quantity)
}

func TestTryReserve(t *testing.T) {
	ctx := context.Background()
	s := newShop(t)
	p := s.addProduct(t, "A", "1", 2)

	ok, err := TryReserve(ctx, s.catalog, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = TryReserve(ctx, s.catalog, p.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = TryReserve(ctx, s.catalog, 999, 1)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestCheckout_IdempotencyKeyCompletesAfterClientCancels(t *testing.T) {
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newShop(t,
		withOrders(func(o port.OrderRepository) port.OrderRepository {
			return cancelAfterCreate{OrderRepository: o, cancel: cancel}
		}),
		withIdempotency(func(i port.IdempotencyStore) port.IdempotencyStore {
			return ctxBoundIdempotency{IdempotencyStore: i}
		}),
	)
	p := s.addProduct(t, "A", "1", 5)
	lines := []domain.Reservation{{ProductID: p.ID, Quantity: 2}}

	first, err := s.checkout.Checkout(reqCtx, "alice", "1 Main St", lines, "k")
	require.NoError(t, err)
	require.Error(t, reqCtx.Err())

	retry, err := s.checkout.Checkout(context.Background(), "alice", "1 Main St", lines, "k")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)
	assert.Equal(t, 3, s.stockOf(t, p.ID))
	assert.Zero(t, s.logs.FilterMessage("failed to record idempotency result").Len())
}
