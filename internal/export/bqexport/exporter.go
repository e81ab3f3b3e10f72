// Package bqexport copies week ledgers into a BigQuery table for reporting.
package bqexport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Exporter writes ledger rows to one BigQuery table.
type Exporter struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	tableID   string
	now       func() time.Time
}

// NewExporter creates an exporter holding a shared BigQuery client.
func NewExporter(ctx context.Context, projectID, datasetID, tableID string, opts ...option.ClientOption) (*Exporter, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewExporter: project id is required")
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		tableID:   tableID,
		now:       time.Now,
	}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *Exporter) table() *bigquery.Table {
	return e.client.Dataset(e.datasetID).Table(e.tableID)
}

// EnsureTable creates the table from the ReceiptRow schema if it does not exist yet.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	log := logger.FromContext(ctx)

	t := e.table()
	if _, err := t.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	schema, err := Schema()
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Name:        e.tableID,
		Description: "Weekly receipt ledger rows",
		Schema:      schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "exported_ts",
		},
	}
	if err := t.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}

	log.Info().
		Str("dataset", e.datasetID).
		Str("table", e.tableID).
		Msg("Created BigQuery table")
	return nil
}

// ExportWeek streams every record of ledger into the table and returns the row count.
func (e *Exporter) ExportWeek(ctx context.Context, ledger *domain.Ledger) (int, error) {
	log := logger.FromContext(ctx)

	if ledger == nil || len(ledger.Records) == 0 {
		return 0, nil
	}

	schema, err := Schema()
	if err != nil {
		return 0, fmt.Errorf("ExportWeek: inferring schema: %w", err)
	}

	savers := BuildSavers(ledger, schema, e.now())
	if err := e.table().Inserter().Put(ctx, savers); err != nil {
		return 0, fmt.Errorf("ExportWeek: inserting rows: %w", err)
	}

	log.Info().
		Str("calendar_week", ledger.Week.String()).
		Int("rows", len(savers)).
		Msg("Exported week to BigQuery")
	return len(savers), nil
}

// WeekTotals is the warehouse view of one week, after streaming dedupe.
type WeekTotals struct {
	Rows         int64   `bigquery:"rows"`
	FoodTotal    float64 `bigquery:"food_total"`
	NonFoodTotal float64 `bigquery:"nonfood_total"`
}

// QueryWeekTotals sums what the warehouse holds for week.
func (e *Exporter) QueryWeekTotals(ctx context.Context, week domain.WeekID) (*WeekTotals, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS rows,
			IFNULL(SUM(food_total), 0) AS food_total,
			IFNULL(SUM(nonfood_total), 0) AS nonfood_total
		FROM `+"`%s.%s.%s`"+`
		WHERE calendar_week = @week
	`, e.projectID, e.datasetID, e.tableID)

	q := e.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "week", Value: week.String()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryWeekTotals: reading query: %w", err)
	}

	var totals WeekTotals
	err = it.Next(&totals)
	if err == iterator.Done {
		return &WeekTotals{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("QueryWeekTotals: reading row: %w", err)
	}
	return &totals, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
