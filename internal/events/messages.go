package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// Routing keys on the receipts exchange.
const (
	RoutingWeekAnalyzed   = "week.analyzed"
	RoutingAnalyzeRequest = "week.analyze"
)

// WeekAnalyzedEvent announces a finished analysis run.
type WeekAnalyzedEvent struct {
	CalendarWeek  string    `json:"calendar_week"`
	RunID         string    `json:"run_id,omitempty"`
	Status        string    `json:"status"`
	TotalFood     float64   `json:"total_food"`
	TotalNonFood  float64   `json:"total_nonfood"`
	TotalReceipts int       `json:"total_receipts"`
	Processed     int       `json:"processed"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	Warnings      int       `json:"warnings"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
}

// NewWeekAnalyzedEvent builds the event for result.
func NewWeekAnalyzedEvent(result *domain.AnalysisResult) *WeekAnalyzedEvent {
	analyzedAt := result.FinishedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now()
	}
	return &WeekAnalyzedEvent{
		CalendarWeek:  result.Week.String(),
		RunID:         result.RunID,
		Status:        string(result.Status),
		TotalFood:     result.Summary.TotalFood.InexactFloat64(),
		TotalNonFood:  result.Summary.TotalNonFood.InexactFloat64(),
		TotalReceipts: result.Summary.TotalReceipts,
		Processed:     result.Processed,
		Failed:        len(result.Failures),
		Skipped:       len(result.Skipped),
		Warnings:      result.Summary.Warnings,
		AnalyzedAt:    analyzedAt,
	}
}

// ToJSON converts the event to JSON bytes.
func (e *WeekAnalyzedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// AnalyzeRequest asks a worker to analyze one week.
type AnalyzeRequest struct {
	CalendarWeek string    `json:"calendar_week"`
	Force        bool      `json:"force_reanalysis"`
	RequestedAt  time.Time `json:"requested_at"`
}

// NewAnalyzeRequest creates a request stamped with the current time.
func NewAnalyzeRequest(week domain.WeekID, force bool) *AnalyzeRequest {
	return &AnalyzeRequest{
		CalendarWeek: week.String(),
		Force:        force,
		RequestedAt:  time.Now(),
	}
}

// ToJSON converts the request to JSON bytes.
func (r *AnalyzeRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// Week returns the validated week of the request.
func (r *AnalyzeRequest) Week() (domain.WeekID, error) {
	return domain.ParseWeekID(r.CalendarWeek)
}

// AnalyzeRequestFromJSON decodes a request and rejects it when the week is missing or malformed.
func AnalyzeRequestFromJSON(data []byte) (*AnalyzeRequest, error) {
	var req AnalyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if _, err := req.Week(); err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	return &req, nil
}
