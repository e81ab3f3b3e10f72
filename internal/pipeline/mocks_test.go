package pipeline_test

import (
	"context"
	"sync"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// MockAnalyzer is a mock implementation of inference.Analyzer for testing.
type MockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, image []byte, mimeType string) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockAnalyzer) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, image, mimeType)
	}
	return "01.08.2025;14:30:00;1,00;0,00", nil
}

func (m *MockAnalyzer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRecorder is a mock implementation of pipeline.RunRecorder for testing.
type MockRecorder struct {
	StartRunFunc  func(ctx context.Context, week domain.WeekID, images int) (string, error)
	FinishRunFunc func(ctx context.Context, runID string, result *domain.AnalysisResult) error
}

func (m *MockRecorder) StartRun(ctx context.Context, week domain.WeekID, images int) (string, error) {
	if m.StartRunFunc != nil {
		return m.StartRunFunc(ctx, week, images)
	}
	return "run-1", nil
}

func (m *MockRecorder) FinishRun(ctx context.Context, runID string, result *domain.AnalysisResult) error {
	if m.FinishRunFunc != nil {
		return m.FinishRunFunc(ctx, runID, result)
	}
	return nil
}

// MockPublisher is a mock implementation of pipeline.EventPublisher for testing.
type MockPublisher struct {
	PublishWeekAnalyzedFunc func(ctx context.Context, result *domain.AnalysisResult) error
}

func (m *MockPublisher) PublishWeekAnalyzed(ctx context.Context, result *domain.AnalysisResult) error {
	if m.PublishWeekAnalyzedFunc != nil {
		return m.PublishWeekAnalyzedFunc(ctx, result)
	}
	return nil
}
