// Package parser turns the model's single-line reply into a ledger record.
package parser

import (
	"strings"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

const (
	// Delimiter separates fields in model replies and ledger rows.
	Delimiter = ";"

	// FieldCount is the number of fields once the source filename is appended.
	FieldCount = 5
)

// MalformedResponse is the reason given when a reply does not split into FieldCount fields.
const MalformedResponse = "malformed model response"

// Parse appends sourceFile to the cleaned reply, splits it on Delimiter and maps the
// five fields positionally onto a record. Only the two sum fields get the decimal
// comma replaced by a point; date and time are kept as the model wrote them.
// Sum fields are stored as text: numeric coercion happens when a ledger is loaded.
func Parse(raw, sourceFile string) (domain.Record, error) {
	line := Clean(raw)
	if line == "" {
		return domain.Record{}, &domain.ParseError{Reason: "empty model response", Raw: raw}
	}
	if strings.ContainsAny(line, "\r\n") {
		return domain.Record{}, &domain.ParseError{Reason: "multi-line model response", Raw: raw}
	}

	fields := strings.Split(line+Delimiter+sourceFile, Delimiter)
	if len(fields) != FieldCount {
		return domain.Record{}, &domain.ParseError{Reason: MalformedResponse, Raw: raw}
	}

	return domain.Record{
		Date:         strings.TrimSpace(fields[0]),
		Time:         strings.TrimSpace(fields[1]),
		FoodTotal:    domain.Amount(normalizeDecimal(fields[2])),
		NonFoodTotal: domain.Amount(normalizeDecimal(fields[3])),
		SourceFile:   fields[4],
	}, nil
}

func normalizeDecimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

// Clean strips surrounding whitespace and Markdown code fences the model sometimes adds.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)

	// ```csv ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return strings.TrimSpace(strings.Trim(s, "`"))
		}
		s = strings.TrimSpace(s[idx+1:])
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}
