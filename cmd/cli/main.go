package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/app"
	"github.com/dvloznov/receipt-ledger/internal/config"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(log)
	case "weeks":
		runWeeks(log)
	case "summary":
		runSummary(log)
	case "show":
		runShow(log)
	case "interactive":
		runInteractive(log)
	case "upload":
		runUpload(log)
	case "export-bigquery":
		runExportBigQuery(log)
	case "export-notion":
		runExportNotion(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Receipt Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  analyze          Analyze the receipt photos of a calendar week")
	fmt.Println("  weeks            List week folders and their analysis status")
	fmt.Println("  summary          Print the totals of an analyzed week")
	fmt.Println("  show             Print every receipt of an analyzed week")
	fmt.Println("  interactive      Pick a week from a list and analyze it")
	fmt.Println("  upload           Upload local photos into the GCS week folder")
	fmt.Println("  export-bigquery  Stream a week's receipts into BigQuery")
	fmt.Println("  export-notion    Upsert a week's totals into a Notion database")
	fmt.Println("  history          List recorded analysis runs of a week")
	fmt.Println("  help             Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup loads the configuration and wires the application for a command.
func setup(log zerolog.Logger, opts app.Options) (*app.App, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = log.Level(logger.ParseLevel(cfg.EffectiveLogLevel()))

	if err := cfg.Validate(opts.Inference); err != nil {
		var startupErr *domain.StartupConfigError
		if errors.As(err, &startupErr) {
			log.Fatal().Strs("problems", startupErr.Problems).Msg("Invalid configuration")
		}
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return a, log
}

func parseWeekFlag(log zerolog.Logger, raw string) domain.WeekID {
	if raw == "" {
		log.Fatal().Msg("Error: -week is required")
	}
	week, err := domain.ParseWeekID(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("Error: invalid -week")
	}
	return week
}

func runAnalyze(log zerolog.Logger) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week to analyze, e.g. 2025CW_30")
	force := fs.Bool("force", false, "Re-analyze photos already present in the ledger")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{Inference: true, Events: true, History: true})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	result, err := a.Analyzer.Analyze(ctx, week, pipeline.Options{Force: *force})
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	printResult(os.Stdout, result)
	if !result.Performed() {
		os.Exit(2)
	}
}

func runWeeks(log zerolog.Logger) {
	fs := flag.NewFlagSet("weeks", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	a, log := setup(log, app.Options{})
	defer a.Close()

	ctx := logger.WithContext(context.Background(), log)

	entries, err := a.Catalog.DescribeAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list weeks")
	}

	printWeeks(os.Stdout, entries)
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week, e.g. 2025CW_30")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{})
	defer a.Close()

	ctx := logger.WithContext(context.Background(), log)

	l, err := a.Ledgers.Load(ctx, week)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	printSummary(os.Stdout, week, ledger.Summarize(l))
}

func runShow(log zerolog.Logger) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week, e.g. 2025CW_30")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{})
	defer a.Close()

	ctx := logger.WithContext(context.Background(), log)

	l, err := a.Ledgers.Load(ctx, week)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	printLedger(os.Stdout, l)
	printSummary(os.Stdout, week, ledger.Summarize(l))
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	weekStr := fs.String("week", "", "Calendar week, e.g. 2025CW_30")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(os.Args[2:])

	week := parseWeekFlag(log, *weekStr)

	a, log := setup(log, app.Options{History: true})
	defer a.Close()

	if a.History == nil {
		log.Fatal().Msg("Run history is disabled (HISTORY_DB_PATH is empty)")
	}

	ctx := logger.WithContext(context.Background(), log)

	runs, err := a.History.ListRuns(ctx, week, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	printRuns(os.Stdout, week, runs)
}
