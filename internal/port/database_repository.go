package port

import (
	"context"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

type ProductRepository interface {
	// GetProduct returns domain.ErrProductNotFound when the id does not resolve
	GetProduct(ctx context.Context, id int64) (domain.Product, error)

	// GetProducts returns the products that exist among ids, keyed by id
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	// ListProducts pages through the catalog ordered by id
	ListProducts(ctx context.Context, filter domain.ProductFilter, page domain.PageRequest) (domain.Page[domain.Product], error)

	// Categories lists distinct product categories
	Categories(ctx context.Context) ([]string, error)

	// SaveProduct creates the product when ID is zero, otherwise updates name, category, price and image.
	// Stock is only written on create; afterwards it belongs to the stock ledger.
	SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error)
}

type CartRepository interface {
	// AddOrMerge adds quantity to the owner's line for productID, creating it if absent
	AddOrMerge(ctx context.Context, ownerID string, productID int64, quantity int) (domain.CartLine, error)

	// SetQuantity replaces a line's quantity; domain.ErrLineNotFound if the owner has no such line
	SetQuantity(ctx context.Context, ownerID string, lineID int64, quantity int) (domain.CartLine, error)

	// RemoveLine deletes a line; missing lines are not an error
	RemoveLine(ctx context.Context, ownerID string, lineID int64) error

	// RemoveProducts deletes the owner's lines for the given products
	RemoveProducts(ctx context.Context, ownerID string, productIDs []int64) error

	// Clear deletes every line of the owner's cart
	Clear(ctx context.Context, ownerID string) error

	// ListLines returns the owner's lines in creation order
	ListLines(ctx context.Context, ownerID string) ([]domain.CartLine, error)
}

// TransitionFunc runs while an order is locked and before its new status is
// written. Returning an error aborts the transition.
type TransitionFunc func(ctx context.Context, o domain.Order) error

type OrderRepository interface {
	// CreateOrder appends a new order with its lines
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns domain.ErrOrderNotFound when the id does not resolve
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// ListByOwner pages through an owner's orders, newest first
	ListByOwner(ctx context.Context, ownerID string, page domain.PageRequest) (domain.Page[domain.Order], error)

	// ListOrders pages through all orders, newest first, optionally filtered by status
	ListOrders(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[domain.Order], error)

	// Transition moves an order from one status to another as a compare-and-swap.
	// It fails with domain.ErrInvalidStateTransition if the order is no longer in from.
	Transition(ctx context.Context, id string, from, to domain.OrderStatus, apply TransitionFunc) (domain.Order, error)
}

type StockLedger interface {
	// Reserve decrements every reservation or none of them
	Reserve(ctx context.Context, items []domain.Reservation) error

	// Release restores stock taken by a reservation
	Release(ctx context.Context, items []domain.Reservation) error

	// CurrentStock returns the units available for a product
	CurrentStock(ctx context.Context, productID int64) (int, error)

	// Adjust applies an inventory correction; stock never drops below zero
	Adjust(ctx context.Context, productID int64, delta int) (int, error)
}

type PricingResolver interface {
	// Quote returns the current unit price and name of a product
	Quote(ctx context.Context, productID int64) (domain.Quote, error)
}
