package web

import (
	"strings"

	"github.com/shopspring/decimal"
)

// formatEuro renders an amount the German way: two places, decimal comma, thousands dot.
func formatEuro(d decimal.Decimal) string {
	s := d.Round(2).StringFixed(2)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}

	return sign + b.String() + "," + frac + " €"
}
