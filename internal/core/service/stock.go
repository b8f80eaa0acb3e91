package service

import (
	"context"
	"errors"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

// TryReserve is the single-product form of a reservation. It reports false,
// with no error, when the product is short of stock.
func TryReserve(ctx context.Context, ledger port.StockLedger, productID int64, quantity int) (bool, error) {
	err := ledger.Reserve(ctx, []domain.Reservation{{ProductID: productID, Quantity: quantity}})
	if errors.Is(err, domain.ErrInsufficientStock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StockSeeder is implemented by ledgers kept outside the product store, such
// as Redis, which need to learn the stock of newly created products.
type StockSeeder interface {
	SetStock(ctx context.Context, productID int64, quantity int) error
}
