package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/receipt-ledger/internal/app"
	"github.com/dvloznov/receipt-ledger/internal/config"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/events"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file to load before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewWithLevel(cfg.EffectiveLogLevel())

	if err := cfg.Validate(true); err != nil {
		var startupErr *domain.StartupConfigError
		if errors.As(err, &startupErr) {
			log.Fatal().Strs("problems", startupErr.Problems).Msg("Invalid configuration, refusing to start")
		}
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.EventsEnabled() {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log, app.Options{Inference: true, Events: true, History: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Results are announced by the analyzer itself as week.analyzed events.
	handler := func(ctx context.Context, req *events.AnalyzeRequest) error {
		week, err := req.Week()
		if err != nil {
			return err
		}

		result, err := a.Analyzer.Analyze(ctx, week, pipeline.Options{Force: req.Force})
		if err != nil {
			return err
		}

		log := logger.FromContext(ctx)
		log.Info().
			Str("run_id", result.RunID).
			Str("status", string(result.Status)).
			Int("processed", result.Processed).
			Int("failed", len(result.Failures)).
			Int("skipped", len(result.Skipped)).
			Msg("Analyze request finished")
		return nil
	}

	log.Info().Str("queue", cfg.AMQPQueue).Msg("Worker service started, waiting for analyze requests...")

	err = a.Events.ConsumeAnalyzeRequests(ctx, handler)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Consumer stopped with error")
	}

	log.Info().Msg("Worker service exited")
}
