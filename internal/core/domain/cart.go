package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"ownerId"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CartItem is a cart line joined with live product data. None of the
// numbers are authoritative until checkout.
type CartItem struct {
	CartLine
	Product      Product         `json:"product"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ExceedsStock bool            `json:"exceedsStock"`
}

type CartSummary struct {
	Lines         int             `json:"lines"`
	TotalQuantity int             `json:"totalQuantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}
