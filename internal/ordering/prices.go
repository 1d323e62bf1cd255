package ordering

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mtogo/foodorders/internal/contracts"
)

// PriceLookup resolves the unit price of a menu item.
type PriceLookup interface {
	TryGetPrice(itemID string) (decimal.Decimal, bool)
}

// PriceBook is an immutable price table. Item ids are matched case-insensitively.
type PriceBook struct {
	prices map[string]decimal.Decimal
}

func DefaultPriceBook() *PriceBook {
	pb, _ := NewPriceBook(map[string]string{
		contracts.SeedBurgerID: "79.00",
		contracts.SeedFriesID:  "29.00",
		contracts.SeedSodaID:   "19.00",
	})
	return pb
}

func NewPriceBook(prices map[string]string) (*PriceBook, error) {
	pb := &PriceBook{prices: make(map[string]decimal.Decimal, len(prices))}
	for id, raw := range prices {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", id, err)
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("price for %s: negative price %s", id, raw)
		}
		pb.prices[strings.ToLower(id)] = p
	}
	return pb, nil
}

// LoadPriceBook reads a JSON object of item id to price, e.g. {"<id>": "79.00"}.
// An empty path yields the default book.
func LoadPriceBook(path string) (*PriceBook, error) {
	if path == "" {
		return DefaultPriceBook(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price book: %w", err)
	}
	var prices map[string]json.Number
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil, fmt.Errorf("parse price book %s: %w", path, err)
	}
	asText := make(map[string]string, len(prices))
	for id, n := range prices {
		asText[id] = n.String()
	}
	return NewPriceBook(asText)
}

func (b *PriceBook) TryGetPrice(itemID string) (decimal.Decimal, bool) {
	p, ok := b.prices[strings.ToLower(strings.TrimSpace(itemID))]
	return p, ok
}

func (b *PriceBook) Len() int { return len(b.prices) }
