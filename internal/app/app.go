// Package app wires the shared components every binary runs on.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/receipt-ledger/internal/catalog"
	"github.com/dvloznov/receipt-ledger/internal/config"
	"github.com/dvloznov/receipt-ledger/internal/events"
	"github.com/dvloznov/receipt-ledger/internal/history"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/inference"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
)

// Options select the optional components.
type Options struct {
	// Inference builds the Gemini client and the analyzer.
	Inference bool
	// Events dials AMQP when AMQP_URL is set.
	Events bool
	// History opens the run history when HISTORY_DB_PATH is set.
	History bool
}

// App holds the wired components. Fields for disabled components are nil.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Source  imagesource.Source
	GCS     *imagesource.GCSSource
	Ledgers *ledger.Store
	Catalog *catalog.Catalog

	Inference *inference.GeminiClient
	Analyzer  *pipeline.WeekAnalyzer
	History   *history.Repository
	Events    *events.Client

	closers []func() error
}

// New builds the components selected by opts. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}

	a.Ledgers = ledger.NewStore(cfg.CostFilesDir)
	if err := a.Ledgers.EnsureWritable(); err != nil {
		return nil, err
	}

	if cfg.GCSBucket != "" {
		gcs, err := imagesource.NewGCSSource(ctx, cfg.GCSBucket, cfg.PhotosDir, cfg.ImageFilter())
		if err != nil {
			return nil, fmt.Errorf("create GCS image source: %w", err)
		}
		a.GCS = gcs
		a.Source = gcs
		a.closers = append(a.closers, gcs.Close)
		log.Info().Str("bucket", cfg.GCSBucket).Str("prefix", cfg.PhotosDir).Msg("Reading photos from GCS")
	} else {
		a.Source = imagesource.NewDirSource(cfg.PhotosDir, cfg.ImageFilter())
		log.Info().Str("dir", cfg.PhotosDir).Msg("Reading photos from local directory")
	}

	a.Catalog = catalog.New(a.Source, a.Ledgers)

	if opts.History && cfg.HistoryEnabled() {
		repo, err := history.NewRepository(cfg.HistoryDBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open run history: %w", err)
		}
		a.History = repo
		a.closers = append(a.closers, repo.Close)
		log.Info().Str("path", cfg.HistoryDBPath).Msg("Run history enabled")
	}

	if opts.Events && cfg.EventsEnabled() {
		client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to AMQP: %w", err)
		}
		a.Events = client
		a.closers = append(a.closers, client.Close)
		log.Info().Str("exchange", cfg.AMQPExchange).Str("queue", cfg.AMQPQueue).Msg("Events enabled")
	}

	if opts.Inference {
		client, err := inference.NewGeminiClient(ctx, cfg.InferenceConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create inference client: %w", err)
		}
		a.Inference = client

		var pipelineOpts []pipeline.Option
		if a.History != nil {
			pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(a.History))
		}
		if a.Events != nil {
			pipelineOpts = append(pipelineOpts, pipeline.WithPublisher(a.Events))
		}
		a.Analyzer = pipeline.NewWeekAnalyzer(a.Source, client, a.Ledgers, pipelineOpts...)
		log.Info().Str("model", client.Model()).Msg("Inference client ready")
	}

	return a, nil
}

// Close releases the components in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
