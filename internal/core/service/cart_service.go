package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

// CartService manages per-user carts. Cart contents never touch the stock
// ledger; stock is only read to flag lines that would fail at checkout.
type CartService struct {
	carts    port.CartRepository
	products port.ProductRepository
	stock    port.StockLedger
	log      *zap.Logger
}

func NewCartService(carts port.CartRepository, products port.ProductRepository, stock port.StockLedger, log *zap.Logger) *CartService {
	return &CartService{carts: carts, products: products, stock: stock, log: log}
}

func (s *CartService) AddItem(ctx context.Context, ownerID string, productID int64, quantity int) (domain.CartLine, error) {
	ctx, span := telemetry.AddSpan(ctx, "CartService.AddItem",
		attribute.Int64("product.id", productID), attribute.Int("quantity", quantity))
	defer span.End()

	if quantity < 1 {
		return domain.CartLine{}, domain.InvalidQuantity(productID, quantity)
	}
	if quantity > domain.MaxLineQuantity {
		return domain.CartLine{}, domain.QuantityTooLarge(productID)
	}
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		telemetry.RecordError(span, err)
		return domain.CartLine{}, err
	}

	line, err := s.carts.AddOrMerge(ctx, ownerID, productID, quantity)
	if err != nil {
		telemetry.RecordError(span, err)
		return domain.CartLine{}, err
	}
	return line, nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes
// the line, in which case removed is true and the returned line is the one
// that was dropped.
func (s *CartService) SetQuantity(ctx context.Context, ownerID string, lineID int64, quantity int) (line domain.CartLine, removed bool, err error) {
	ctx, span := telemetry.AddSpan(ctx, "CartService.SetQuantity",
		attribute.Int64("cart.line_id", lineID), attribute.Int("quantity", quantity))
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	if quantity > domain.MaxLineQuantity {
		return domain.CartLine{}, false, domain.LineQuantityTooLarge(lineID)
	}
	if quantity > 0 {
		line, err = s.carts.SetQuantity(ctx, ownerID, lineID, quantity)
		return line, false, err
	}

	lines, err := s.carts.ListLines(ctx, ownerID)
	if err != nil {
		return domain.CartLine{}, false, err
	}
	for _, l := range lines {
		if l.ID == lineID {
			if err := s.carts.RemoveLine(ctx, ownerID, lineID); err != nil {
				return domain.CartLine{}, false, err
			}
			return l, true, nil
		}
	}
	return domain.CartLine{}, false, domain.LineNotFound(lineID)
}

func (s *CartService) RemoveItem(ctx context.Context, ownerID string, lineID int64) error {
	return s.carts.RemoveLine(ctx, ownerID, lineID)
}

func (s *CartService) Clear(ctx context.Context, ownerID string) error {
	return s.carts.Clear(ctx, ownerID)
}

// List joins the owner's lines with live product data and stock. The numbers
// are advisory until checkout.
func (s *CartService) List(ctx context.Context, ownerID string) ([]domain.CartItem, error) {
	lines, err := s.carts.ListLines(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []domain.CartItem{}, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.CartItem, 0, len(lines))
	for _, l := range lines {
		item := domain.CartItem{CartLine: l, Subtotal: decimal.Zero}
		p, ok := products[l.ProductID]
		if !ok {
			s.log.Warn("cart line references missing product",
				zap.String("owner_id", ownerID), zap.Int64("product_id", l.ProductID))
			item.Product = domain.Product{ID: l.ProductID}
			item.ExceedsStock = true
			items = append(items, item)
			continue
		}

		n, err := s.stock.CurrentStock(ctx, p.ID)
		if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
			return nil, err
		}
		p.Stock = n
		item.Product = p
		item.Subtotal = p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		item.ExceedsStock = l.Quantity > n
		items = append(items, item)
	}
	return items, nil
}

func (s *CartService) Summary(ctx context.Context, ownerID string) (domain.CartSummary, error) {
	items, err := s.List(ctx, ownerID)
	if err != nil {
		return domain.CartSummary{}, err
	}
	sum := domain.CartSummary{Lines: len(items), Subtotal: decimal.Zero}
	for _, it := range items {
		sum.TotalQuantity += it.Quantity
		sum.Subtotal = sum.Subtotal.Add(it.Subtotal)
	}
	return sum, nil
}
