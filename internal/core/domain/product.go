package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ProductFilter narrows catalog listings. Zero values match everything.
type ProductFilter struct {
	Category string
	Keyword  string
	InStock  bool
}

// Quote is the price of a product at the instant it was resolved.
type Quote struct {
	ProductID int64
	Name      string
	UnitPrice decimal.Decimal
}
