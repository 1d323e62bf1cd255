package ordering

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	FreeDeliveryThreshold = decimal.RequireFromString("200.00")
	DeliveryFee           = decimal.RequireFromString("29.00")
	BulkDiscountRate      = decimal.RequireFromString("0.10")
)

// BulkQuantity is the total item count from which the bulk discount applies.
const BulkQuantity = 5

// CalculateTotal prices a set of line items. Delivery is free from 200.00
// subtotal, and five or more items get 10% off the subtotal. Every field is
// rounded on its own to cents, half away from zero.
func CalculateTotal(items []PricedLineItem) (PricingResult, error) {
	if items == nil {
		return PricingResult{}, fmt.Errorf("%w: items is nil", ErrInvalidArgument)
	}

	subtotal := decimal.Zero
	quantity := decimal.Zero
	for _, it := range items {
		if it.Quantity < 1 {
			return PricingResult{}, fmt.Errorf("%w: item %s has quantity %d", ErrInvalidArgument, it.ItemID, it.Quantity)
		}
		q := decimal.NewFromInt(int64(it.Quantity))
		subtotal = subtotal.Add(it.UnitPrice.Mul(q))
		quantity = quantity.Add(q)
	}

	fee := decimal.Zero
	if len(items) > 0 && subtotal.LessThan(FreeDeliveryThreshold) {
		fee = DeliveryFee
	}
	discount := decimal.Zero
	if quantity.GreaterThanOrEqual(decimal.NewFromInt(BulkQuantity)) {
		discount = subtotal.Mul(BulkDiscountRate)
	}
	total := subtotal.Add(fee).Sub(discount)

	return PricingResult{
		Subtotal:    subtotal.Round(2),
		DeliveryFee: fee.Round(2),
		Discount:    discount.Round(2),
		Total:       total.Round(2),
	}, nil
}
