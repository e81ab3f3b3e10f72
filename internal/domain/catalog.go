package domain

import "time"

// AnalysisStatus tells whether a week already has a ledger file.
type AnalysisStatus string

const (
	StatusAnalyzed    AnalysisStatus = "analyzed"
	StatusNotAnalyzed AnalysisStatus = "not_analyzed"
)

// CatalogEntry describes one week bucket.
type CatalogEntry struct {
	Week         WeekID
	Year         int
	WeekNumber   int
	FileCount    int
	Status       AnalysisStatus
	LastAnalysis *time.Time // ledger modification time, nil when not analyzed
}
