package main

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/core/service"
)

var demoProducts = []domain.Product{
	{Name: "Smartphone X", Category: "Electronics", Price: decimal.RequireFromString("699.00"), Stock: 50},
	{Name: "Wireless Earbuds", Category: "Electronics", Price: decimal.RequireFromString("129.99"), Stock: 120},
	{Name: "Laptop Pro 14", Category: "Electronics", Price: decimal.RequireFromString("1499.00"), Stock: 20},
	{Name: "Running Shoes", Category: "Sports", Price: decimal.RequireFromString("89.90"), Stock: 75},
	{Name: "Yoga Mat", Category: "Sports", Price: decimal.RequireFromString("25.00"), Stock: 200},
	{Name: "Coffee Maker", Category: "Home", Price: decimal.RequireFromString("59.50"), Stock: 40},
	{Name: "Desk Lamp", Category: "Home", Price: decimal.RequireFromString("19.99"), Stock: 5},
	{Name: "Go Programming Book", Category: "Books", Price: decimal.RequireFromString("45.00"), Stock: 1},
}

// seedDemoData fills an empty catalog. An existing catalog is left alone.
func seedDemoData(ctx context.Context, catalog *service.CatalogService, log *zap.Logger) error {
	existing, err := catalog.ListProducts(ctx, domain.ProductFilter{}, domain.PageRequest{Size: 1})
	if err != nil {
		return err
	}
	if existing.TotalItems > 0 {
		return nil
	}

	for _, p := range demoProducts {
		if _, err := catalog.CreateProduct(ctx, p); err != nil {
			return err
		}
	}
	log.Info("seeded demo catalog", zap.Int("products", len(demoProducts)))
	return nil
}
