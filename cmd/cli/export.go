package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/app"
	"github.com/dvloznov/receipt-ledger/internal/export/bqexport"
	"github.com/dvloznov/receipt-ledger/internal/export/notionexport"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/rs/zerolog"
)

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week folder to upload into, e.g. 2025CW_30")
	dir := fs.String("dir", "", "Local directory holding the photos")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)
	if *dir == "" {
		log.Fatal().Msg("Usage: cli upload -week WEEK -dir PATH")
	}

	a, log := setup(log, app.Options{})
	defer a.Close()

	if a.GCS == nil {
		log.Fatal().Msg("GCS_BUCKET is not set")
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("Failed to read directory")
	}

	filter := a.Config.ImageFilter()
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filter.Eligible(e.Name()) {
			files = append(files, filepath.Join(*dir, e.Name()))
		}
	}
	sort.Strings(files)

	ctx := logger.WithContext(context.Background(), log)

	var failed int
	for _, path := range files {
		uri, err := a.GCS.Upload(ctx, week, path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Upload failed")
			failed++
			continue
		}
		fmt.Printf("Uploaded %s to %s\n", path, uri)
	}

	fmt.Printf("Uploaded %d of %d file(s).\n", len(files)-failed, len(files))
	if failed > 0 {
		os.Exit(1)
	}
}

func runExportBigQuery(log zerolog.Logger) {
	fs := flag.NewFlagSet("export-bigquery", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week to export, e.g. 2025CW_30")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{})
	defer a.Close()

	cfg := a.Config
	if !cfg.BigQueryEnabled() {
		log.Fatal().Msg("BIGQUERY_PROJECT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	l, err := a.Ledgers.Load(ctx, week)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	exporter, err := bqexport.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, cfg.BigQueryTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery exporter")
	}
	defer exporter.Close()

	if err := exporter.EnsureTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure BigQuery table")
	}

	n, err := exporter.ExportWeek(ctx, l)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	totals, err := exporter.QueryWeekTotals(ctx, week)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read back warehouse totals")
	} else {
		fmt.Printf("Warehouse now holds %d row(s) for %s: food %.2f, non-food %.2f\n",
			totals.Rows, week, totals.FoodTotal, totals.NonFoodTotal)
	}

	fmt.Printf("Exported %d row(s) of %s to %s.%s.%s\n", n, week, cfg.BigQueryProject, cfg.BigQueryDataset, cfg.BigQueryTable)
}

func runExportNotion(log zerolog.Logger) {
	fs := flag.NewFlagSet("export-notion", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week to export, e.g. 2025CW_30")
	dryRun := fs.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{})
	defer a.Close()

	cfg := a.Config
	if !cfg.NotionEnabled() {
		log.Fatal().Msg("NOTION_TOKEN and NOTION_DATABASE_ID are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	l, err := a.Ledgers.Load(ctx, week)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	ws := notionexport.WeekSummary{
		Week:       week,
		Summary:    ledger.Summarize(l),
		AnalyzedAt: l.ModTime,
	}

	client := notionexport.NewNotionClient(cfg.NotionToken)
	stats, err := notionexport.SyncWeek(ctx, client, cfg.NotionDatabaseID, ws, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}
	if stats.Failed > 0 {
		log.Fatal().Int("failed", stats.Failed).Msg("Sync finished with failures")
	}

	fmt.Printf("Sync completed: %d created, %d updated.\n", stats.Created, stats.Updated)
}
