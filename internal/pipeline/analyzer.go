// Package pipeline runs the weekly receipt analysis: check the bucket, push every
// photo through fetch, infer, parse and append, then reload and summarize the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/inference"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/logger"
)

const (
	reasonNoBucket = "no photos found for calendar week"
	reasonNoImages = "no supported image files found"
)

// Options tune a single analysis.
type Options struct {
	// Force analyzes every photo, including ones already present in the ledger.
	Force bool
}

// WeekAnalyzer runs analyze_week. Photos are processed one after another.
type WeekAnalyzer struct {
	source    imagesource.Source
	ledger    LedgerStore
	files     *FilePipeline
	recorder  RunRecorder
	publisher EventPublisher
	now       func() time.Time
}

// Option configures a WeekAnalyzer.
type Option func(*WeekAnalyzer)

// WithRecorder stores run history.
func WithRecorder(r RunRecorder) Option {
	return func(a *WeekAnalyzer) { a.recorder = r }
}

// WithPublisher announces finished runs.
func WithPublisher(p EventPublisher) Option {
	return func(a *WeekAnalyzer) { a.publisher = p }
}

// WithFilePipeline replaces the standard per-photo steps.
func WithFilePipeline(p *FilePipeline) Option {
	return func(a *WeekAnalyzer) { a.files = p }
}

// NewWeekAnalyzer wires the standard receipt pipeline.
func NewWeekAnalyzer(source imagesource.Source, analyzer inference.Analyzer, store LedgerStore, opts ...Option) *WeekAnalyzer {
	a := &WeekAnalyzer{
		source: source,
		ledger: store,
		files:  NewReceiptPipeline(source, analyzer, store),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the batch for week. Only bucket-level and infrastructure errors are
// returned: a missing or empty bucket is a RunNotPerformed result, and per-photo
// failures are listed in the result while the rest of the batch continues.
func (a *WeekAnalyzer) Analyze(ctx context.Context, week domain.WeekID, opts Options) (*domain.AnalysisResult, error) {
	ctx = logger.WithWeek(ctx, string(week))
	log := logger.FromContext(ctx)

	result := &domain.AnalysisResult{
		Week:      week,
		StartedAt: a.now(),
	}

	// BucketCheck
	images, err := a.source.List(ctx, week)
	if err != nil {
		if errors.Is(err, domain.ErrBucketNotFound) {
			log.Info().Msg("No bucket for week, no analysis performed")
			return a.notPerformed(result, reasonNoBucket), nil
		}
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	if len(images) == 0 {
		log.Info().Msg("Bucket has no supported images, no analysis performed")
		return a.notPerformed(result, reasonNoImages), nil
	}
	result.Images = len(images)

	var existing *domain.Ledger
	if !opts.Force {
		existing, err = a.ledger.Load(ctx, week)
		if err != nil && !errors.Is(err, domain.ErrLedgerNotFound) {
			return nil, fmt.Errorf("Analyze: %w", err)
		}
	}

	if a.recorder != nil {
		runID, err := a.recorder.StartRun(ctx, week, len(images))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record analysis run start")
		}
		result.RunID = runID
	}

	log.Info().Int("images", len(images)).Bool("force", opts.Force).Msg("Starting week analysis")

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			a.finish(ctx, result)
			return nil, fmt.Errorf("Analyze: %w", err)
		}

		if existing.HasSource(img.Name) {
			result.Skipped = append(result.Skipped, img.Name)
			log.Debug().Str("file", img.Name).Msg("Receipt already in ledger, skipping")
			continue
		}

		state := &FileState{Week: week, Image: img}
		if err := a.files.Execute(ctx, state); err != nil {
			stage := domain.Stage("unknown")
			var stepErr *StepError
			if errors.As(err, &stepErr) {
				stage = stepErr.Stage
			}
			result.Failures = append(result.Failures, domain.FileFailure{File: img.Name, Stage: stage, Err: err})
			log.Warn().Err(err).Str("file", img.Name).Str("stage", string(stage)).Msg("Skipping receipt")
			continue
		}

		result.Processed++
		log.Info().
			Str("file", img.Name).
			Str("date", state.Record.Date).
			Str("food", string(state.Record.FoodTotal)).
			Str("nonfood", string(state.Record.NonFoodTotal)).
			Msg("Receipt analyzed")
	}

	// Reload from disk even though every row was just written: the file is the source of truth.
	reloaded, err := a.ledger.Load(ctx, week)
	switch {
	case err == nil:
		result.Ledger = reloaded
		result.Status = domain.RunCompleted
	case errors.Is(err, domain.ErrLedgerNotFound):
		result.Ledger = &domain.Ledger{Week: week}
		result.Status = domain.RunFailed
	default:
		a.finish(ctx, result)
		return nil, fmt.Errorf("Analyze: reload: %w", err)
	}

	result.Summary = ledger.Summarize(result.Ledger)
	a.finish(ctx, result)

	log.Info().
		Str("status", string(result.Status)).
		Int("processed", result.Processed).
		Int("failed", len(result.Failures)).
		Int("skipped", len(result.Skipped)).
		Int("total_receipts", result.Summary.TotalReceipts).
		Str("total_food", result.Summary.TotalFood.StringFixed(2)).
		Str("total_nonfood", result.Summary.TotalNonFood.StringFixed(2)).
		Msg("Week analysis finished")

	return result, nil
}

func (a *WeekAnalyzer) notPerformed(result *domain.AnalysisResult, reason string) *domain.AnalysisResult {
	result.Status = domain.RunNotPerformed
	result.Reason = reason
	result.FinishedAt = a.now()
	return result
}

// finish stamps the result and hands it to the recorder and publisher.
func (a *WeekAnalyzer) finish(ctx context.Context, result *domain.AnalysisResult) {
	log := logger.FromContext(ctx)
	result.FinishedAt = a.now()

	if result.Status == "" {
		result.Status = domain.RunFailed
	}

	// Bookkeeping must survive a cancelled request context.
	bg := context.WithoutCancel(ctx)

	if a.recorder != nil && result.RunID != "" {
		if err := a.recorder.FinishRun(bg, result.RunID, result); err != nil {
			log.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to record analysis run result")
		}
	}
	if a.publisher != nil && result.Status != domain.RunFailed {
		if err := a.publisher.PublishWeekAnalyzed(bg, result); err != nil {
			log.Warn().Err(err).Msg("Failed to publish week analyzed event")
		}
	}
}
