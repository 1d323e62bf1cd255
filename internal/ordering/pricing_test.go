package ordering

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, money(want).Equal(got), "%s: want %s, got %s", field, want, got.StringFixed(2))
}

func TestCalculateTotal(t *testing.T) {
	tests := []struct {
		name                           string
		items                          []PricedLineItem
		subtotal, fee, discount, total string
	}{
		{
			name:     "just below free delivery threshold",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 1, UnitPrice: money("199.99")}},
			subtotal: "199.99", fee: "29.00", discount: "0.00", total: "228.99",
		},
		{
			name:     "exactly at threshold waives fee",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 1, UnitPrice: money("200.00")}},
			subtotal: "200.00", fee: "0.00", discount: "0.00", total: "200.00",
		},
		{
			name:     "four items get no discount",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 4, UnitPrice: money("25.00")}},
			subtotal: "100.00", fee: "29.00", discount: "0.00", total: "129.00",
		},
		{
			name:     "five items get bulk discount",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 5, UnitPrice: money("20.00")}},
			subtotal: "100.00", fee: "29.00", discount: "10.00", total: "119.00",
		},
		{
			name:     "discount stacks with delivery fee",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 5, UnitPrice: money("39.80")}},
			subtotal: "199.00", fee: "29.00", discount: "19.90", total: "208.10",
		},
		{
			name:     "discount stacks with free delivery",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 5, UnitPrice: money("40.00")}},
			subtotal: "200.00", fee: "0.00", discount: "20.00", total: "180.00",
		},
		{
			name:     "rounding half away from zero",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 5, UnitPrice: money("0.01")}},
			subtotal: "0.05", fee: "29.00", discount: "0.01", total: "29.05",
		},
		{
			name:     "large order without bulk",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 4, UnitPrice: money("60.00")}},
			subtotal: "240.00", fee: "0.00", discount: "0.00", total: "240.00",
		},
		{
			name:     "large bulk order",
			items:    []PricedLineItem{{ItemID: "a", Quantity: 5, UnitPrice: money("50.00")}},
			subtotal: "250.00", fee: "0.00", discount: "25.00", total: "225.00",
		},
		{
			name: "quantity summed across lines",
			items: []PricedLineItem{
				{ItemID: "burger", Quantity: 2, UnitPrice: money("79.00")},
				{ItemID: "fries", Quantity: 2, UnitPrice: money("29.00")},
				{ItemID: "soda", Quantity: 1, UnitPrice: money("19.00")},
			},
			subtotal: "235.00", fee: "0.00", discount: "23.50", total: "211.50",
		},
		{
			name:     "empty order is all zero",
			items:    []PricedLineItem{},
			subtotal: "0", fee: "0", discount: "0", total: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateTotal(tt.items)
			require.NoError(t, err)
			assertMoney(t, tt.subtotal, got.Subtotal, "subtotal")
			assertMoney(t, tt.fee, got.DeliveryFee, "deliveryFee")
			assertMoney(t, tt.discount, got.Discount, "discount")
			assertMoney(t, tt.total, got.Total, "total")
		})
	}
}

func TestCalculateTotalRejectsInvalidInput(t *testing.T) {
	_, err := CalculateTotal(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = CalculateTotal([]PricedLineItem{{ItemID: "a", Quantity: 0, UnitPrice: money("1.00")}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCalculateTotalLargeQuantities(t *testing.T) {
	got, err := CalculateTotal([]PricedLineItem{
		{ItemID: "a", Quantity: math.MaxInt64, UnitPrice: money("1.00")},
		{ItemID: "b", Quantity: 2, UnitPrice: money("1.00")},
	})
	require.NoError(t, err)
	assertMoney(t, "9223372036854775809", got.Subtotal, "subtotal")
	assertMoney(t, "0", got.DeliveryFee, "deliveryFee")
	assertMoney(t, "922337203685477580.90", got.Discount, "discount")
	assertMoney(t, "8301034833169298228.10", got.Total, "total")
}

func TestCalculateTotalIsDeterministic(t *testing.T) {
	items := []PricedLineItem{
		{ItemID: "a", Quantity: 3, UnitPrice: money("33.33")},
		{ItemID: "b", Quantity: 2, UnitPrice: money("0.07")},
	}
	first, err := CalculateTotal(items)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := CalculateTotal(items)
		require.NoError(t, err)
		assert.True(t, first.Total.Equal(again.Total))
		assert.True(t, first.Discount.Equal(again.Discount))
	}
}
