package domain

import "sort"

// Reservation is a quantity of one product held against the stock ledger.
type Reservation struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// MaxLineQuantity bounds the quantity of one cart line and the per-product
// total of a reservation group.
const MaxLineQuantity = 10000

// ValidateReservations rejects quantities below one and per-product totals
// above MaxLineQuantity. Totals are checked before they are summed so they
// never wrap.
func ValidateReservations(items []Reservation) error {
	totals := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return InvalidQuantity(it.ProductID, it.Quantity)
		}
		if it.Quantity > MaxLineQuantity-totals[it.ProductID] {
			return QuantityTooLarge(it.ProductID)
		}
		totals[it.ProductID] += it.Quantity
	}
	return nil
}

// MergeReservations folds duplicate products together and returns them in
// ascending product id order, which is the global lock order for stock.
// Callers validate items first.
func MergeReservations(items []Reservation) []Reservation {
	totals := make(map[int64]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}

	out := make([]Reservation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Reservation{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func ProductIDs(items []Reservation) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
