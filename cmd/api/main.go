package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/api/handlers"
	"github.com/dvloznov/receipt-ledger/internal/api/middleware"
	"github.com/dvloznov/receipt-ledger/internal/app"
	"github.com/dvloznov/receipt-ledger/internal/config"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/jobs"
	"github.com/dvloznov/receipt-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/dvloznov/receipt-ledger/internal/web"
	"github.com/rs/zerolog"
)

func main() {
	var (
		envFile = flag.String("env-file", ".env", "Optional .env file to load before the environment")
		port    = flag.Int("port", 0, "HTTP server port (overrides PORT)")
		workers = flag.Int("workers", inmemory.DefaultWorkers, "Number of async analysis workers")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}

	log := logger.NewWithLevel(cfg.EffectiveLogLevel())

	if err := cfg.Validate(true); err != nil {
		var startupErr *domain.StartupConfigError
		if errors.As(err, &startupErr) {
			log.Fatal().Strs("problems", startupErr.Problems).Msg("Invalid configuration, refusing to start")
		}
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log, app.Options{Inference: true, Events: true, History: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", *workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, analyzeJobHandler(a.Analyzer, log)); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	var runs handlers.RunLister
	checks := map[string]handlers.HealthCheck{
		"cost_files": func(context.Context) error { return a.Ledgers.EnsureWritable() },
	}
	if a.History != nil {
		runs = a.History
		checks["history"] = a.History.Ping
	}

	analysisHandler := handlers.NewAnalysisHandler(a.Analyzer, a.Ledgers, a.Catalog, runs, log)
	systemHandler := handlers.NewSystemHandler(handlers.SystemInfo{
		AIModel:          a.Inference.Model(),
		SupportedFormats: cfg.Extensions(),
		MaxFileSize:      cfg.ImageFilter().MaxSize,
		PhotosDir:        cfg.PhotosDir,
		ResultsDir:       cfg.CostFilesDir,
		Debug:            cfg.Debug,
	}, a.Catalog, a.Inference != nil, checks, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	webServer, err := web.NewServer(a.Analyzer, a.Ledgers, a.Catalog, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize web UI")
	}

	// Create router
	mux := http.NewServeMux()
	handlers.Register(mux, analysisHandler, systemHandler, jobsHandler)
	webServer.Register(mux)

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)

	// Analysis of a large week can take minutes; the write timeout covers a full batch.
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// analyzeJobHandler runs one queued analysis and stores its outcome on the job.
func analyzeJobHandler(analyzer *pipeline.WeekAnalyzer, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		analyzeJob, ok := job.(*jobs.AnalyzeWeekJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		week, err := domain.ParseWeekID(analyzeJob.CalendarWeek)
		if err != nil {
			return jobs.Permanent(err)
		}

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Str("calendar_week", week.String()).
			Bool("force", analyzeJob.Force).
			Msg("Processing analysis job")

		result, err := analyzer.Analyze(logger.WithContext(ctx, log), week, pipeline.Options{Force: analyzeJob.Force})
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", analyzeJob.JobID).
				Str("calendar_week", week.String()).
				Msg("Analysis job failed")
			return err
		}

		analyzeJob.Result = &jobs.JobResult{
			RunID:         result.RunID,
			AnalysisState: string(result.Status),
			Processed:     result.Processed,
			Failed:        len(result.Failures),
			Skipped:       len(result.Skipped),
			TotalReceipts: result.Summary.TotalReceipts,
			TotalFood:     result.Summary.TotalFood.InexactFloat64(),
			TotalNonFood:  result.Summary.TotalNonFood.InexactFloat64(),
		}

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Str("calendar_week", week.String()).
			Str("status", string(result.Status)).
			Int("processed", result.Processed).
			Msg("Analysis job completed")

		return nil
	}
}
