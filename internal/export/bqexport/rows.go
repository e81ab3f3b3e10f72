package bqexport

import (
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/cespare/xxhash/v2"
	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// receiptDateLayout is how the model writes dates on receipts.
const receiptDateLayout = "02.01.2006"

// ReceiptRow is one ledger record in the warehouse table.
type ReceiptRow struct {
	CalendarWeek string `bigquery:"calendar_week"` // REQUIRED
	Year         int64  `bigquery:"year"`          // REQUIRED
	WeekNumber   int64  `bigquery:"week_number"`   // REQUIRED

	ReceiptDate bigquery.NullDate `bigquery:"receipt_date"` // DATE, NULLABLE when the model date does not parse
	RawDate     string            `bigquery:"raw_date"`     // REQUIRED, as written in the ledger
	RawTime     string            `bigquery:"raw_time"`     // REQUIRED, as written in the ledger

	FoodTotal    float64 `bigquery:"food_total"`    // REQUIRED, non-numeric cells count as 0
	NonFoodTotal float64 `bigquery:"nonfood_total"` // REQUIRED, non-numeric cells count as 0

	SourceFile string    `bigquery:"source_file"` // REQUIRED
	ExportedTS time.Time `bigquery:"exported_ts"` // REQUIRED
}

// NewReceiptRow maps a ledger record of week to a warehouse row.
func NewReceiptRow(week domain.WeekID, rec domain.Record, exportedAt time.Time) *ReceiptRow {
	return &ReceiptRow{
		CalendarWeek: week.String(),
		Year:         int64(week.Year()),
		WeekNumber:   int64(week.Number()),
		ReceiptDate:  parseReceiptDate(rec.Date),
		RawDate:      rec.Date,
		RawTime:      rec.Time,
		FoodTotal:    rec.FoodTotal.Float64(),
		NonFoodTotal: rec.NonFoodTotal.Float64(),
		SourceFile:   rec.SourceFile,
		ExportedTS:   exportedAt.UTC(),
	}
}

func parseReceiptDate(s string) bigquery.NullDate {
	t, err := time.Parse(receiptDateLayout, strings.TrimSpace(s))
	if err != nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
}

// InsertID is stable for the same week and row, so a retried export is deduplicated
// by BigQuery's best-effort streaming dedupe.
func InsertID(week domain.WeekID, rec domain.Record) string {
	h := xxhash.New()
	_, _ = h.WriteString(week.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strings.Join(rec.Fields(), ";"))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Schema is the table schema inferred from ReceiptRow.
func Schema() (bigquery.Schema, error) {
	return bigquery.InferSchema(ReceiptRow{})
}

// BuildSavers converts a ledger into insertable rows with stable insert ids.
func BuildSavers(ledger *domain.Ledger, schema bigquery.Schema, exportedAt time.Time) []*bigquery.StructSaver {
	savers := make([]*bigquery.StructSaver, 0, len(ledger.Records))
	for _, rec := range ledger.Records {
		savers = append(savers, &bigquery.StructSaver{
			Schema:   schema,
			InsertID: InsertID(ledger.Week, rec),
			Struct:   NewReceiptRow(ledger.Week, rec, exportedAt),
		})
	}
	return savers
}
