package service

import (
	"context"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

// CatalogPricing quotes the catalog's current price.
type CatalogPricing struct {
	products port.ProductRepository
}

func NewCatalogPricing(products port.ProductRepository) *CatalogPricing {
	return &CatalogPricing{products: products}
}

func (p *CatalogPricing) Quote(ctx context.Context, productID int64) (domain.Quote, error) {
	product, err := p.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{ProductID: product.ID, Name: product.Name, UnitPrice: product.Price}, nil
}
