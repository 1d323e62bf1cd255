package ordering

import (
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateCreated   State = "Created"
	StateConfirmed State = "Confirmed"
	StateCancelled State = "Cancelled"
)

func (s State) Valid() bool {
	switch s {
	case StateCreated, StateConfirmed, StateCancelled:
		return true
	}
	return false
}

// Terminal states never change again.
func (s State) Terminal() bool { return s == StateConfirmed || s == StateCancelled }

// CanTransitionTo reports whether s -> to is a legal lifecycle step.
func (s State) CanTransitionTo(to State) bool {
	return s == StateCreated && to.Terminal()
}

type PricedLineItem struct {
	ItemID    string          `json:"menuItemId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type PricingResult struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

type Order struct {
	ID           string
	RestaurantID string
	Lines        []PricedLineItem
	Pricing      PricingResult
	State        State
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderRequest is untrusted client input.
type OrderRequest struct {
	RestaurantID string        `json:"restaurantId"`
	Items        []RequestItem `json:"items"`
}

type RequestItem struct {
	ItemID   string `json:"menuItemId"`
	Quantity int    `json:"quantity"`
}

type Accepted struct {
	OrderID string
	Total   decimal.Decimal
	State   State
}

type OutboxMessage struct {
	ID           string
	RoutingKey   string
	Payload      []byte
	CreatedAt    time.Time
	Attempts     int
	LastError    string
	DispatchedAt *time.Time
}

type AnomalyKind string

const (
	AnomalyLateFailure  AnomalyKind = "late-failure-after-confirm"
	AnomalyLateApproval AnomalyKind = "late-approval-after-cancel"
	AnomalyUnknownOrder AnomalyKind = "unknown-order"
)

// SagaAnomaly is a saga outcome that could not be applied and needs manual reconciliation.
type SagaAnomaly struct {
	ID         int64       `json:"id"`
	OrderID    string      `json:"orderId"`
	Kind       AnomalyKind `json:"kind"`
	RoutingKey string      `json:"routingKey"`
	Detail     string      `json:"detail"`
	CreatedAt  time.Time   `json:"createdAt"`
}
