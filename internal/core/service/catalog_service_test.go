package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/mall-checkout/internal/adapter/storage"
	"github.com/rl1809/mall-checkout/internal/core/domain"
)

// seedingLedger stands in for a ledger kept outside the product store.
type seedingLedger struct {
	*storage.MemoryCatalog
	seeded map[int64]int
}

func (l *seedingLedger) SetStock(ctx context.Context, productID int64, quantity int) error {
	l.seeded[productID] = quantity
	return nil
}

func TestCatalog_CreateSeedsExternalLedger(t *testing.T) {
	products := storage.NewMemoryCatalog()
	ledger := &seedingLedger{MemoryCatalog: storage.NewMemoryCatalog(), seeded: map[int64]int{}}
	svc := NewCatalogService(products, ledger, zaptest.NewLogger(t))

	p, err := svc.CreateProduct(context.Background(), domain.Product{Name: "Mug", Price: decimal.NewFromInt(4), Stock: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, ledger.seeded[p.ID])

	// the ledger has no cell for the product, so it shows as out of stock
	got, err := svc.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestCatalog_Validation(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()

	_, err := s.products.CreateProduct(ctx, domain.Product{Name: " ", Price: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	_, err = s.products.CreateProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(-1)})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	_, err = s.products.CreateProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(1), Stock: -2})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	_, err = s.products.UpdateProduct(ctx, domain.Product{ID: 55, Name: "A", Price: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestCatalog_AdjustAndList(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	p := s.addProduct(t, "Desk Lamp", "30", 2)
	s.addProduct(t, "Chair", "50", 0)

	n, err := s.products.AdjustStock(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = s.products.AdjustStock(ctx, p.ID, -6)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	page, err := s.products.ListProducts(ctx, domain.ProductFilter{Keyword: "lamp"}, domain.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 5, page.Items[0].Stock)

	page, err = s.products.ListProducts(ctx, domain.ProductFilter{InStock: true}, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)

	cats, err := s.products.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, cats)
}
