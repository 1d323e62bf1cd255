package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the ledger entry for one order. The decision is written once
// and reused on every redelivery of the same OrderPlaced.
type Payment struct {
	OrderID     string
	Amount      decimal.Decimal
	Outcome     Outcome
	Reason      string
	EventID     string
	DecidedAt   time.Time
	PublishedAt *time.Time
}
