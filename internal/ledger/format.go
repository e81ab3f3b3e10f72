package ledger

import (
	"fmt"
	"strings"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/parser"
)

// Header is the fixed first line of every ledger file.
const Header = "Datum;Uhrzeit;Summe_Food;Summe_NonFood;Foto_Datei"

// FileSuffix is appended to the week identifier to form the ledger file name.
const FileSuffix = "_costs.csv"

const lockSuffix = ".lock"

// encodeRecord renders one row. There is no quoting, so fields that contain the
// delimiter or a line break are refused instead of written.
func encodeRecord(rec domain.Record) (string, error) {
	fields := rec.Fields()
	for i, f := range fields {
		if strings.ContainsAny(f, parser.Delimiter+"\r\n") {
			return "", fmt.Errorf("%w: column %d (%q) contains a delimiter or line break", domain.ErrLedgerCorrupt, i+1, f)
		}
	}
	return strings.Join(fields, parser.Delimiter), nil
}

// decodeRow maps one row onto a record. ok is false for rows without exactly five fields.
func decodeRow(line string) (domain.Record, bool) {
	fields := strings.Split(line, parser.Delimiter)
	if len(fields) != parser.FieldCount {
		return domain.Record{}, false
	}
	return domain.Record{
		Date:         fields[0],
		Time:         fields[1],
		FoodTotal:    domain.Amount(fields[2]),
		NonFoodTotal: domain.Amount(fields[3]),
		SourceFile:   fields[4],
	}, true
}

// splitLines returns the data rows of a ledger file, without the header.
// Blank lines are dropped and CRLF endings are accepted.
func splitLines(content string) []string {
	var rows []string
	first := true
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if first {
			first = false
			if line == Header {
				continue
			}
		}
		rows = append(rows, line)
	}
	return rows
}
