package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

// CatalogService serves products with their stock read from the ledger,
// which is authoritative when it lives outside the product store.
type CatalogService struct {
	products port.ProductRepository
	stock    port.StockLedger
	log      *zap.Logger
}

func NewCatalogService(products port.ProductRepository, stock port.StockLedger, log *zap.Logger) *CatalogService {
	return &CatalogService{products: products, stock: stock, log: log}
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return s.withStock(ctx, p)
}

func (s *CatalogService) ListProducts(ctx context.Context, filter domain.ProductFilter, page domain.PageRequest) (domain.Page[domain.Product], error) {
	result, err := s.products.ListProducts(ctx, filter, page)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	for i := range result.Items {
		if result.Items[i], err = s.withStock(ctx, result.Items[i]); err != nil {
			return domain.Page[domain.Product]{}, err
		}
	}
	return result, nil
}

func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	return s.products.Categories(ctx)
}

func (s *CatalogService) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	p.ID = 0
	if err := validateProduct(p); err != nil {
		return domain.Product{}, err
	}
	if p.Stock < 0 {
		return domain.Product{}, domain.InvalidRequest("stock must not be negative")
	}

	created, err := s.products.SaveProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}
	if seeder, ok := s.stock.(StockSeeder); ok {
		if err := seeder.SetStock(ctx, created.ID, created.Stock); err != nil {
			return domain.Product{}, fmt.Errorf("seed stock for product %d: %w", created.ID, err)
		}
	}

	s.log.Info("product created", zap.Int64("product_id", created.ID), zap.Int("stock", created.Stock))
	return created, nil
}

// UpdateProduct changes the descriptive fields and price. Orders already
// placed keep the price they were quoted.
func (s *CatalogService) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validateProduct(p); err != nil {
		return domain.Product{}, err
	}
	updated, err := s.products.SaveProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}
	return s.withStock(ctx, updated)
}

func (s *CatalogService) AdjustStock(ctx context.Context, productID int64, delta int) (int, error) {
	ctx, span := telemetry.AddSpan(ctx, "CatalogService.AdjustStock",
		attribute.Int64("product.id", productID), attribute.Int("stock.delta", delta))
	defer span.End()

	stock, err := s.stock.Adjust(ctx, productID, delta)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	s.log.Info("stock adjusted", zap.Int64("product_id", productID), zap.Int("delta", delta), zap.Int("stock", stock))
	return stock, nil
}

func (s *CatalogService) withStock(ctx context.Context, p domain.Product) (domain.Product, error) {
	n, err := s.stock.CurrentStock(ctx, p.ID)
	if errors.Is(err, domain.ErrProductNotFound) {
		// not seeded into the ledger yet
		p.Stock = 0
		return p, nil
	}
	if err != nil {
		return domain.Product{}, err
	}
	p.Stock = n
	return p, nil
}

func validateProduct(p domain.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return domain.InvalidRequest("product name must not be blank")
	}
	if p.Price.IsNegative() {
		return domain.InvalidRequest("price must not be negative")
	}
	return nil
}
