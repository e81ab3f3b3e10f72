package handlers

import (
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/history"
)

// ReceiptResponse is one ledger row. Sums are coerced to numbers.
type ReceiptResponse struct {
	Datum        string  `json:"datum"`
	Uhrzeit      string  `json:"uhrzeit"`
	SummeFood    float64 `json:"summe_food"`
	SummeNonFood float64 `json:"summe_nonfood"`
	FotoDatei    string  `json:"foto_datei"`
}

// AnalysisResponse is the body of POST /analyze and GET /analyze/{week}.
type AnalysisResponse struct {
	CalendarWeek  string            `json:"calendar_week"`
	Status        string            `json:"status"`
	TotalFood     float64           `json:"total_food"`
	TotalNonFood  float64           `json:"total_nonfood"`
	TotalReceipts int               `json:"total_receipts"`
	Receipts      []ReceiptResponse `json:"receipts"`
	Warnings      int               `json:"warnings"`
	AnalysisDate  time.Time         `json:"analysis_date"`

	// Only set on POST /analyze.
	RunID     string `json:"run_id,omitempty"`
	Processed *int   `json:"processed,omitempty"`
	Failed    *int   `json:"failed,omitempty"`
	Skipped   *int   `json:"skipped,omitempty"`
}

// SummaryResponse is the body of GET /analyze/{week}/summary.
type SummaryResponse struct {
	CalendarWeek  string    `json:"calendar_week"`
	TotalFood     float64   `json:"total_food"`
	TotalNonFood  float64   `json:"total_nonfood"`
	GrandTotal    float64   `json:"grand_total"`
	TotalReceipts int       `json:"total_receipts"`
	Warnings      int       `json:"warnings"`
	AnalysisDate  time.Time `json:"analysis_date"`
}

// WeekResponse is one entry of GET /analyze/weeks.
type WeekResponse struct {
	Week           string     `json:"week"`
	Year           int        `json:"year"`
	WeekNumber     int        `json:"week_number"`
	FileCount      int        `json:"file_count"`
	AnalysisStatus string     `json:"analysis_status"`
	LastAnalysis   *time.Time `json:"last_analysis"`
}

// RunResponse is one entry of GET /analyze/{week}/runs.
type RunResponse struct {
	RunID         string     `json:"run_id"`
	CalendarWeek  string     `json:"calendar_week"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	Images        int        `json:"images"`
	Processed     int        `json:"processed"`
	Failed        int        `json:"failed"`
	Skipped       int        `json:"skipped"`
	TotalReceipts int        `json:"total_receipts"`
	TotalFood     float64    `json:"total_food"`
	TotalNonFood  float64    `json:"total_nonfood"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

func newReceipts(l *domain.Ledger) []ReceiptResponse {
	receipts := []ReceiptResponse{}
	if l == nil {
		return receipts
	}
	for _, r := range l.Records {
		receipts = append(receipts, ReceiptResponse{
			Datum:        r.Date,
			Uhrzeit:      r.Time,
			SummeFood:    r.FoodTotal.Float64(),
			SummeNonFood: r.NonFoodTotal.Float64(),
			FotoDatei:    r.SourceFile,
		})
	}
	return receipts
}

func newAnalysisResponse(week domain.WeekID, status string, l *domain.Ledger, s domain.Summary, at time.Time) AnalysisResponse {
	return AnalysisResponse{
		CalendarWeek:  week.String(),
		Status:        status,
		TotalFood:     s.TotalFood.InexactFloat64(),
		TotalNonFood:  s.TotalNonFood.InexactFloat64(),
		TotalReceipts: s.TotalReceipts,
		Receipts:      newReceipts(l),
		Warnings:      s.Warnings,
		AnalysisDate:  at.UTC(),
	}
}

func newResultResponse(result *domain.AnalysisResult) AnalysisResponse {
	resp := newAnalysisResponse(result.Week, string(result.Status), result.Ledger, result.Summary, result.FinishedAt)
	processed := result.Processed
	failed := len(result.Failures)
	skipped := len(result.Skipped)
	resp.RunID = result.RunID
	resp.Processed = &processed
	resp.Failed = &failed
	resp.Skipped = &skipped
	return resp
}

func newRunResponse(run history.Run) RunResponse {
	return RunResponse{
		RunID:         run.ID,
		CalendarWeek:  run.Week.String(),
		Status:        string(run.Status),
		Reason:        run.Reason,
		Images:        run.Images,
		Processed:     run.Processed,
		Failed:        run.Failed,
		Skipped:       run.Skipped,
		TotalReceipts: run.TotalReceipts,
		TotalFood:     run.TotalFood.InexactFloat64(),
		TotalNonFood:  run.TotalNonFood.InexactFloat64(),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}

func newWeekResponse(e domain.CatalogEntry) WeekResponse {
	return WeekResponse{
		Week:           e.Week.String(),
		Year:           e.Year,
		WeekNumber:     e.WeekNumber,
		FileCount:      e.FileCount,
		AnalysisStatus: string(e.Status),
		LastAnalysis:   e.LastAnalysis,
	}
}
