package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a sum cell exactly as it is stored in a ledger file.
// Numeric coercion happens on read: text that is not a decimal counts as zero.
type Amount string

// Decimal returns the numeric value of a, or zero if a does not parse.
func (a Amount) Decimal() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(string(a)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Valid reports whether a parses as a decimal.
func (a Amount) Valid() bool {
	_, err := decimal.NewFromString(strings.TrimSpace(string(a)))
	return err == nil
}

// Float64 is a convenience for JSON and template output.
func (a Amount) Float64() float64 {
	return a.Decimal().InexactFloat64()
}

// Record is one parsed receipt, one row of a week ledger.
type Record struct {
	Date         string // dd.mm.yyyy as produced by the model, not validated
	Time         string // hh:mm:ss
	FoodTotal    Amount
	NonFoodTotal Amount
	SourceFile   string
}

// Fields returns the record in ledger column order.
func (r Record) Fields() []string {
	return []string{r.Date, r.Time, string(r.FoodTotal), string(r.NonFoodTotal), r.SourceFile}
}

// Ledger is the accumulated set of records for one week, in file order.
type Ledger struct {
	Week    WeekID
	Records []Record

	// Corrupt counts rows that did not have exactly five fields and were excluded.
	Corrupt int

	ModTime time.Time
}

// HasSource reports whether a record for the given image file is already present.
func (l *Ledger) HasSource(name string) bool {
	if l == nil {
		return false
	}
	for _, r := range l.Records {
		if r.SourceFile == name {
			return true
		}
	}
	return false
}

// Summary is derived from a Ledger on every request and never stored.
type Summary struct {
	TotalFood     decimal.Decimal
	TotalNonFood  decimal.Decimal
	TotalReceipts int

	// Warnings is the number of corrupt rows excluded from the sums.
	Warnings int
}

// GrandTotal is food plus non-food.
func (s Summary) GrandTotal() decimal.Decimal {
	return s.TotalFood.Add(s.TotalNonFood)
}
