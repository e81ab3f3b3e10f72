// Package handlers implements the JSON REST surface.
package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/history"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
)

// WeekAnalyzer runs analyze_week.
type WeekAnalyzer interface {
	Analyze(ctx context.Context, week domain.WeekID, opts pipeline.Options) (*domain.AnalysisResult, error)
}

// LedgerReader reads week ledgers.
type LedgerReader interface {
	Snapshot(ctx context.Context, week domain.WeekID) (*domain.Ledger, []byte, error)
	Load(ctx context.Context, week domain.WeekID) (*domain.Ledger, error)
}

// WeekCatalog lists week buckets.
type WeekCatalog interface {
	ListWeeks(ctx context.Context) ([]domain.WeekID, error)
	DescribeAll(ctx context.Context) ([]domain.CatalogEntry, error)
}

// RunLister reads the analysis run history.
type RunLister interface {
	ListRuns(ctx context.Context, week domain.WeekID, limit int) ([]history.Run, error)
}

// Register mounts every REST route on mux. jobs may be nil when async jobs are disabled.
func Register(mux *http.ServeMux, analysis *AnalysisHandler, system *SystemHandler, jobs *JobsHandler) {
	mux.HandleFunc("POST /analyze", analysis.Analyze)
	mux.HandleFunc("GET /analyze/weeks", analysis.ListWeeks)
	mux.HandleFunc("GET /analyze/{week}", analysis.GetAnalysis)
	mux.HandleFunc("GET /analyze/{week}/summary", analysis.GetSummary)
	mux.HandleFunc("GET /analyze/{week}/runs", analysis.ListRuns)

	mux.HandleFunc("GET /system/health", system.Health)
	mux.HandleFunc("GET /system/info", system.Info)
	mux.HandleFunc("GET /system/config", system.Config)

	if jobs != nil {
		mux.HandleFunc("POST /jobs/analyze", jobs.EnqueueAnalysis)
		mux.HandleFunc("GET /jobs", jobs.ListJobs)
		mux.HandleFunc("GET /jobs/{id}", jobs.GetJob)
	}
}
