// Package payment decides whether a placed order can be paid and announces
// the outcome as PaymentApproved or PaymentFailed.
package payment

import (
	"github.com/shopspring/decimal"

	"github.com/mtogo/foodorders/internal/contracts"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// DefaultCreditLimit is the largest order total that is approved.
var DefaultCreditLimit = decimal.RequireFromString("500.00")

type Decision struct {
	Outcome Outcome
	Reason  string
}

// Decide rejects orders whose total is strictly above limit.
func Decide(evt contracts.OrderPlaced, limit decimal.Decimal) Decision {
	if evt.TotalPrice.GreaterThan(limit) {
		return Decision{Outcome: OutcomeRejected, Reason: contracts.InsufficientFundsReason}
	}
	return Decision{Outcome: OutcomeApproved}
}
