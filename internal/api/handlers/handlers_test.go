package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/history"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/jobs"
	"github.com/dvloznov/receipt-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	result *domain.AnalysisResult
	err    error
	calls  []pipeline.Options
}

func (f *fakeAnalyzer) Analyze(_ context.Context, week domain.WeekID, opts pipeline.Options) (*domain.AnalysisResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Week = week
	return &res, nil
}

type fakeLedgers struct {
	ledgers map[domain.WeekID]*domain.Ledger
	raw     map[domain.WeekID][]byte
}

func (f *fakeLedgers) Snapshot(_ context.Context, week domain.WeekID) (*domain.Ledger, []byte, error) {
	l, ok := f.ledgers[week]
	if !ok {
		return nil, nil, domain.ErrLedgerNotFound
	}
	return l, f.raw[week], nil
}

func (f *fakeLedgers) Load(ctx context.Context, week domain.WeekID) (*domain.Ledger, error) {
	l, _, err := f.Snapshot(ctx, week)
	return l, err
}

type fakeCatalog struct {
	entries []domain.CatalogEntry
}

func (f *fakeCatalog) ListWeeks(context.Context) ([]domain.WeekID, error) {
	weeks := make([]domain.WeekID, 0, len(f.entries))
	for _, e := range f.entries {
		weeks = append(weeks, e.Week)
	}
	return weeks, nil
}

func (f *fakeCatalog) DescribeAll(context.Context) ([]domain.CatalogEntry, error) {
	return f.entries, nil
}

type fakeRuns struct {
	runs      []history.Run
	lastLimit int
}

func (f *fakeRuns) ListRuns(_ context.Context, _ domain.WeekID, limit int) ([]history.Run, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func testLedger() *domain.Ledger {
	return &domain.Ledger{
		Week: "2025CW_30",
		Records: []domain.Record{
			{Date: "21.07.2025", Time: "10:15:00", FoodTotal: "12.50", NonFoodTotal: "3.20", SourceFile: "a.jpg"},
			{Date: "22.07.2025", Time: "18:01:00", FoodTotal: "7.30", NonFoodTotal: "0", SourceFile: "b.jpg"},
		},
		Corrupt: 1,
		ModTime: time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC),
	}
}

type testServer struct {
	mux      *http.ServeMux
	analyzer *fakeAnalyzer
	runs     *fakeRuns
}

func newTestServer(t *testing.T, withRuns bool, jobsHandler *JobsHandler) *testServer {
	t.Helper()

	analyzer := &fakeAnalyzer{result: &domain.AnalysisResult{Status: domain.RunCompleted}}
	ledgers := &fakeLedgers{
		ledgers: map[domain.WeekID]*domain.Ledger{"2025CW_30": testLedger()},
		raw:     map[domain.WeekID][]byte{"2025CW_30": []byte("Datum;Uhrzeit;Summe_Food;Summe_NonFood;Foto_Datei\n")},
	}
	catalog := &fakeCatalog{entries: []domain.CatalogEntry{
		{Week: "2025CW_9", Year: 2025, WeekNumber: 9, FileCount: 2, Status: domain.StatusNotAnalyzed},
		{Week: "2025CW_30", Year: 2025, WeekNumber: 30, FileCount: 3, Status: domain.StatusAnalyzed},
	}}

	ts := &testServer{mux: http.NewServeMux(), analyzer: analyzer}
	var runs RunLister
	if withRuns {
		ts.runs = &fakeRuns{runs: []history.Run{{
			ID:           "run-1",
			Week:         "2025CW_30",
			Status:       domain.RunCompleted,
			Images:       3,
			Processed:    2,
			Failed:       1,
			TotalFood:    decimal.RequireFromString("19.80"),
			TotalNonFood: decimal.RequireFromString("3.20"),
			StartedAt:    time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC),
		}}}
		runs = ts.runs
	}

	log := zerolog.Nop()
	analysis := NewAnalysisHandler(analyzer, ledgers, catalog, runs, log)
	system := NewSystemHandler(SystemInfo{
		AIModel:          "gemini-2.5-flash",
		SupportedFormats: []string{".jpg", ".jpeg"},
		MaxFileSize:      10 << 20,
		PhotosDir:        "photos",
		ResultsDir:       "cost_files",
	}, catalog, true, nil, log)
	Register(ts.mux, analysis, system, jobsHandler)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts := newTestServer(t, false, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: "{"},
		{name: "missing week", body: `{}`},
		{name: "blank week", body: `{"calendar_week":"  "}`},
		{name: "bad format", body: `{"calendar_week":"2025-30"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/analyze", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, ts.analyzer.calls)
}

func TestAnalyze_BucketMissing(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ts.analyzer.result = &domain.AnalysisResult{Status: domain.RunNotPerformed, Reason: "bucket missing"}

	rec := ts.do(t, http.MethodPost, "/analyze", `{"calendar_week":"2025CW_31"}`, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Contains(t, body["error"], "2025CW_31")
}

func TestAnalyze_PartialSuccess(t *testing.T) {
	ts := newTestServer(t, false, nil)
	l := testLedger()
	ts.analyzer.result = &domain.AnalysisResult{
		RunID:     "run-42",
		Status:    domain.RunCompleted,
		Images:    3,
		Processed: 2,
		Failures:  []domain.FileFailure{{File: "c.jpg", Stage: domain.StageInfer, Err: errors.New("timeout")}},
		Ledger:    l,
		Summary: domain.Summary{
			TotalFood:     decimal.RequireFromString("19.80"),
			TotalNonFood:  decimal.RequireFromString("3.20"),
			TotalReceipts: 2,
			Warnings:      1,
		},
		FinishedAt: time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC),
	}

	rec := ts.do(t, http.MethodPost, "/analyze", `{"calendar_week":"2025CW_30","force_reanalysis":true}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp AnalysisResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "2025CW_30", resp.CalendarWeek)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "run-42", resp.RunID)
	assert.InDelta(t, 19.80, resp.TotalFood, 0.001)
	assert.InDelta(t, 3.20, resp.TotalNonFood, 0.001)
	assert.Equal(t, 2, resp.TotalReceipts)
	assert.Len(t, resp.Receipts, 2)
	require.NotNil(t, resp.Processed)
	require.NotNil(t, resp.Failed)
	assert.Equal(t, 2, *resp.Processed)
	assert.Equal(t, 1, *resp.Failed)

	require.Len(t, ts.analyzer.calls, 1)
	assert.True(t, ts.analyzer.calls[0].Force)
}

func TestAnalyze_AllFilesFailedIsStillAccepted(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ts.analyzer.result = &domain.AnalysisResult{
		Status:   domain.RunFailed,
		Images:   1,
		Failures: []domain.FileFailure{{File: "a.jpg", Stage: domain.StageParse, Err: errors.New("bad reply")}},
		Summary:  domain.Summary{TotalFood: decimal.Zero, TotalNonFood: decimal.Zero},
	}

	rec := ts.do(t, http.MethodPost, "/analyze", `{"calendar_week":"2025CW_30"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp AnalysisResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "failed", resp.Status)
	assert.NotNil(t, resp.Receipts)
}

func TestAnalyze_AnalyzerError(t *testing.T) {
	ts := newTestServer(t, false, nil)
	ts.analyzer.err = errors.New("disk full")

	rec := ts.do(t, http.MethodPost, "/analyze", `{"calendar_week":"2025CW_30"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// cancellingInference cancels the request context once the first receipt is analyzed.
type cancellingInference struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingInference) Analyze(context.Context, []byte, string) (string, error) {
	c.calls++
	if c.calls == 1 {
		c.cancel()
	}
	return "01.08.2025;14:30:00;1,00;0,00", nil
}

func TestAnalyze_ClientDisconnectDoesNotAbortBatch(t *testing.T) {
	root := t.TempDir()
	photos := filepath.Join(root, "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(photos, "2025CW_30"), 0o755))
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(photos, "2025CW_30", name), []byte("img"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inf := &cancellingInference{cancel: cancel}
	store := ledger.NewStore(filepath.Join(root, "cost_files"))
	source := imagesource.NewDirSource(photos, imagesource.Filter{Extensions: []string{".jpg"}})
	analyzer := pipeline.NewWeekAnalyzer(source, inf, store)

	mux := http.NewServeMux()
	analysis := NewAnalysisHandler(analyzer, store, &fakeCatalog{}, nil, zerolog.Nop())
	system := NewSystemHandler(SystemInfo{}, &fakeCatalog{}, true, nil, zerolog.Nop())
	Register(mux, analysis, system, nil)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"calendar_week":"2025CW_30"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 3, inf.calls)

	l, err := store.Load(context.Background(), "2025CW_30")
	require.NoError(t, err)
	assert.Len(t, l.Records, 3)
}

func TestGetAnalysis(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	assert.NotEmpty(t, etag)

	var resp AnalysisResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.TotalReceipts)
	assert.Equal(t, 1, resp.Warnings)
	assert.InDelta(t, 19.80, resp.TotalFood, 0.001)
	assert.Equal(t, "a.jpg", resp.Receipts[0].FotoDatei)
	assert.Nil(t, resp.Processed)

	t.Run("not modified", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30", "", http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
	})

	t.Run("stale etag", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30", "", http.Header{"If-None-Match": {`"deadbeef"`}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing ledger", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/analyze/2025CW_31", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad week", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/analyze/week30", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSummary(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30/summary", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SummaryResponse
	decodeBody(t, rec, &resp)
	assert.InDelta(t, 19.80, resp.TotalFood, 0.001)
	assert.InDelta(t, 3.20, resp.TotalNonFood, 0.001)
	assert.InDelta(t, 23.00, resp.GrandTotal, 0.001)
	assert.Equal(t, 2, resp.TotalReceipts)
	assert.Equal(t, 1, resp.Warnings)

	rec = ts.do(t, http.MethodGet, "/analyze/2025CW_1/summary", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWeeks(t *testing.T) {
	ts := newTestServer(t, false, nil)

	rec := ts.do(t, http.MethodGet, "/analyze/weeks", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Weeks []WeekResponse `json:"weeks"`
		Total int            `json:"total"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "2025CW_9", resp.Weeks[0].Week)
	assert.Equal(t, "not_analyzed", resp.Weeks[0].AnalysisStatus)
	assert.Equal(t, 30, resp.Weeks[1].WeekNumber)
}

func TestListRuns(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, false, nil)
		rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30/runs", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		ts := newTestServer(t, true, nil)
		rec := ts.do(t, http.MethodGet, "/analyze/2025CW_30/runs?limit=5", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Runs  []RunResponse `json:"runs"`
			Count int           `json:"count"`
		}
		decodeBody(t, rec, &resp)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, "run-1", resp.Runs[0].RunID)
		assert.InDelta(t, 19.80, resp.Runs[0].TotalFood, 0.001)
		assert.Nil(t, resp.Runs[0].FinishedAt)
		assert.Equal(t, 5, ts.runs.lastLimit)
	})
}

func TestSystemEndpoints(t *testing.T) {
	ts := newTestServer(t, false, nil)

	t.Run("health", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/system/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, Version, body["version"])
		assert.Equal(t, "available", body["ai_service"])
	})

	t.Run("info", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/system/info", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, []interface{}{"2025CW_9", "2025CW_30"}, body["available_weeks"])
		assert.EqualValues(t, 10<<20, body["max_file_size"])
	})

	t.Run("config", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/system/config", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.EqualValues(t, 10, body["max_file_size_mb"])
		assert.Equal(t, "photos", body["photos_directory"])
	})
}

func TestHealth_Unhealthy(t *testing.T) {
	checks := map[string]HealthCheck{
		"ledger_dir": func(context.Context) error { return errors.New("read-only file system") },
	}
	h := NewSystemHandler(SystemInfo{}, &fakeCatalog{}, false, checks, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/system/health", nil))

	var body struct {
		Status    string            `json:"status"`
		AIService string            `json:"ai_service"`
		Checks    map[string]string `json:"checks"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "unavailable", body.AIService)
	assert.Equal(t, "read-only file system", body.Checks["ledger_dir"])
}

func TestJobsEndpoints(t *testing.T) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(10, 1, store)
	t.Cleanup(func() { _ = queue.Close() })

	ts := newTestServer(t, false, NewJobsHandler(store, queue, zerolog.Nop()))

	rec := ts.do(t, http.MethodPost, "/jobs/analyze", `{"calendar_week":"2025CW_30"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var enqueued map[string]string
	decodeBody(t, rec, &enqueued)
	jobID := enqueued["job_id"]
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", enqueued["status"])

	rec = ts.do(t, http.MethodGet, "/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.AnalyzeWeekJob
	decodeBody(t, rec, &job)
	assert.Equal(t, "2025CW_30", job.CalendarWeek)

	rec = ts.do(t, http.MethodGet, "/jobs?calendar_week=2025CW_30", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = ts.do(t, http.MethodGet, "/jobs/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/jobs/analyze", `{"calendar_week":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsRoutesAbsentWhenDisabled(t *testing.T) {
	ts := newTestServer(t, false, nil)
	rec := ts.do(t, http.MethodGet, "/jobs", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEtagMatches(t *testing.T) {
	assert.False(t, etagMatches("", `"a"`))
	assert.True(t, etagMatches(`"a"`, `"a"`))
	assert.True(t, etagMatches(`"b", W/"a"`, `"a"`))
	assert.True(t, etagMatches("*", `"a"`))
	assert.False(t, etagMatches(`"b"`, `"a"`))
}
