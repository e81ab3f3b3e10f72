// Package catalog lists the known calendar weeks and their analysis status.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency bounds parallel bucket scans in DescribeAll.
const defaultConcurrency = 4

// LedgerStatter reports whether a week has a ledger and when it was written.
type LedgerStatter interface {
	Stat(week domain.WeekID) (time.Time, bool, error)
}

// Catalog combines the image source with ledger existence.
type Catalog struct {
	source      imagesource.Source
	ledgers     LedgerStatter
	concurrency int
}

// New creates a Catalog.
func New(source imagesource.Source, ledgers LedgerStatter) *Catalog {
	return &Catalog{
		source:      source,
		ledgers:     ledgers,
		concurrency: defaultConcurrency,
	}
}

// ListWeeks returns every bucket name that is a valid week identifier, ordered by
// (year, week-number). Other names are skipped silently.
func (c *Catalog) ListWeeks(ctx context.Context) ([]domain.WeekID, error) {
	names, err := c.source.Buckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListWeeks: %w", err)
	}

	weeks := make([]domain.WeekID, 0, len(names))
	for _, name := range names {
		if domain.IsWeekID(name) {
			weeks = append(weeks, domain.WeekID(name))
		}
	}
	domain.SortWeeks(weeks)
	return weeks, nil
}

// Describe reports file count, analysis status and last analysis time of one week.
// A missing bucket yields domain.ErrBucketNotFound.
func (c *Catalog) Describe(ctx context.Context, week domain.WeekID) (domain.CatalogEntry, error) {
	images, err := c.source.List(ctx, week)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("Describe: %w", err)
	}

	entry := domain.CatalogEntry{
		Week:       week,
		Year:       week.Year(),
		WeekNumber: week.Number(),
		FileCount:  len(images),
		Status:     domain.StatusNotAnalyzed,
	}

	modTime, ok, err := c.ledgers.Stat(week)
	if err != nil {
		return domain.CatalogEntry{}, fmt.Errorf("Describe: %w", err)
	}
	if ok {
		entry.Status = domain.StatusAnalyzed
		entry.LastAnalysis = &modTime
	}

	return entry, nil
}

// DescribeAll describes every listed week, keeping ListWeeks order.
func (c *Catalog) DescribeAll(ctx context.Context) ([]domain.CatalogEntry, error) {
	weeks, err := c.ListWeeks(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.CatalogEntry, len(weeks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, week := range weeks {
		i, week := i, week
		g.Go(func() error {
			entry, err := c.Describe(gctx, week)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("DescribeAll: %w", err)
	}
	return entries, nil
}
