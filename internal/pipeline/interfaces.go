package pipeline

import (
	"context"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// LedgerStore is the part of the ledger store the pipeline writes to and reloads from.
type LedgerStore interface {
	Append(ctx context.Context, week domain.WeekID, rec domain.Record) error
	Load(ctx context.Context, week domain.WeekID) (*domain.Ledger, error)
}

// RunRecorder keeps a history of analysis runs. Failures to record never fail a run.
type RunRecorder interface {
	// StartRun registers a running analysis and returns its id.
	StartRun(ctx context.Context, week domain.WeekID, images int) (string, error)

	// FinishRun stores the outcome of a run started with StartRun.
	FinishRun(ctx context.Context, runID string, result *domain.AnalysisResult) error
}

// EventPublisher announces finished analyses. Failures to publish never fail a run.
type EventPublisher interface {
	PublishWeekAnalyzed(ctx context.Context, result *domain.AnalysisResult) error
}
