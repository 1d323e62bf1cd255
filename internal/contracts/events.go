// Package contracts holds the events exchanged between the ordering and
// payment services over the event channel.
package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Eventos publicados por ordering
const (
	RKOrderPlaced = "order.placed"
)

// Eventos publicados por payment
const (
	RKPaymentFailed   = "payment.failed"
	RKPaymentApproved = "payment.approved"
)

// InsufficientFundsReason is the reason carried by PaymentFailed when the
// order total exceeds the credit limit.
const InsufficientFundsReason = "Insufficient funds / Credit limit exceeded"

type OrderPlaced struct {
	OrderID      string          `json:"orderId"`
	RestaurantID string          `json:"restaurantId"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	OccurredOn   time.Time       `json:"occurredOn"`
}

type PaymentFailed struct {
	OrderID    string    `json:"orderId"`
	Reason     string    `json:"reason"`
	OccurredOn time.Time `json:"occurredOn"`
}

type PaymentApproved struct {
	OrderID    string    `json:"orderId"`
	OccurredOn time.Time `json:"occurredOn"`
}
