package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusConfirmed, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
		{OrderStatusPending, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatus("bogus").Valid())
}

func TestOrderTotal(t *testing.T) {
	lines := []OrderLine{
		{ProductID: 1, UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		{ProductID: 2, UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3},
	}

	assert.True(t, decimal.RequireFromString("20.30").Equal(OrderTotal(lines)))
}

func TestOrder_CloneDoesNotShareLines(t *testing.T) {
	o := Order{ID: "o-1", Lines: []OrderLine{{ProductID: 1, Quantity: 1}}}
	c := o.Clone()
	c.Lines[0].Quantity = 5

	assert.Equal(t, 1, o.Lines[0].Quantity)
	assert.Equal(t, []Reservation{{ProductID: 1, Quantity: 1}}, o.Reservations())
}
