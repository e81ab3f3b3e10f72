package ledger

import (
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Summarize sums both amount columns, rounds them to two places and counts rows.
// A nil or empty ledger yields zero totals.
func Summarize(l *domain.Ledger) domain.Summary {
	if l == nil {
		return domain.Summary{TotalFood: decimal.Zero, TotalNonFood: decimal.Zero}
	}

	food := decimal.Zero
	nonFood := decimal.Zero
	for _, r := range l.Records {
		food = food.Add(r.FoodTotal.Decimal())
		nonFood = nonFood.Add(r.NonFoodTotal.Decimal())
	}

	return domain.Summary{
		TotalFood:     food.Round(2),
		TotalNonFood:  nonFood.Round(2),
		TotalReceipts: len(l.Records),
		Warnings:      l.Corrupt,
	}
}
