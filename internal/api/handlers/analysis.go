package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dvloznov/receipt-ledger/internal/api/middleware"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
)

// AnalysisHandler handles the /analyze endpoints.
type AnalysisHandler struct {
	analyzer WeekAnalyzer
	ledgers  LedgerReader
	catalog  WeekCatalog
	runs     RunLister
	log      zerolog.Logger
}

// NewAnalysisHandler creates a new analysis handler. runs may be nil when history is disabled.
func NewAnalysisHandler(analyzer WeekAnalyzer, ledgers LedgerReader, catalog WeekCatalog, runs RunLister, log zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
		ledgers:  ledgers,
		catalog:  catalog,
		runs:     runs,
		log:      log,
	}
}

// AnalyzeRequest is the body of POST /analyze and POST /jobs/analyze.
type AnalyzeRequest struct {
	CalendarWeek string `json:"calendar_week"`
	Force        bool   `json:"force_reanalysis"`
}

// decodeAnalyzeRequest writes the 400 response itself and reports ok=false on a bad request.
func decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (domain.WeekID, bool, bool) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return "", false, false
	}
	if strings.TrimSpace(req.CalendarWeek) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "calendar_week is required")
		return "", false, false
	}
	week, err := domain.ParseWeekID(req.CalendarWeek)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "calendar_week must be in format YYYYCW_N, e.g. 2025CW_30")
		return "", false, false
	}
	return week, req.Force, true
}

// pathWeek validates the {week} path segment, writing a 400 on failure.
func pathWeek(w http.ResponseWriter, r *http.Request) (domain.WeekID, bool) {
	week, err := domain.ParseWeekID(r.PathValue("week"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "calendar_week must be in format YYYYCW_N, e.g. 2025CW_30")
		return "", false
	}
	return week, true
}

// Analyze handles POST /analyze
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	week, force, ok := decodeAnalyzeRequest(w, r)
	if !ok {
		return
	}

	// A started batch runs to completion even if the client goes away.
	result, err := h.analyzer.Analyze(context.WithoutCancel(r.Context()), week, pipeline.Options{Force: force})
	if err != nil {
		h.log.Error().Err(err).Str("calendar_week", week.String()).Msg("Analysis failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Analysis failed")
		return
	}

	if !result.Performed() {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("No photos found for calendar week %s: %s", week, result.Reason))
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, newResultResponse(result))
}

// GetAnalysis handles GET /analyze/{week}
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	week, ok := pathWeek(w, r)
	if !ok {
		return
	}

	l, data, err := h.ledgers.Snapshot(r.Context(), week)
	if err != nil {
		h.writeLedgerError(w, week, err)
		return
	}

	etag := ledgerETag(data)
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	summary := ledger.Summarize(l)
	middleware.WriteJSON(w, http.StatusOK, newAnalysisResponse(week, string(domain.RunCompleted), l, summary, l.ModTime))
}

// GetSummary handles GET /analyze/{week}/summary
func (h *AnalysisHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	week, ok := pathWeek(w, r)
	if !ok {
		return
	}

	l, err := h.ledgers.Load(r.Context(), week)
	if err != nil {
		h.writeLedgerError(w, week, err)
		return
	}

	s := ledger.Summarize(l)
	middleware.WriteJSON(w, http.StatusOK, SummaryResponse{
		CalendarWeek:  week.String(),
		TotalFood:     s.TotalFood.InexactFloat64(),
		TotalNonFood:  s.TotalNonFood.InexactFloat64(),
		GrandTotal:    s.GrandTotal().InexactFloat64(),
		TotalReceipts: s.TotalReceipts,
		Warnings:      s.Warnings,
		AnalysisDate:  l.ModTime.UTC(),
	})
}

// ListWeeks handles GET /analyze/weeks
func (h *AnalysisHandler) ListWeeks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.DescribeAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list weeks")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list weeks")
		return
	}

	weeks := make([]WeekResponse, 0, len(entries))
	for _, e := range entries {
		weeks = append(weeks, newWeekResponse(e))
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"weeks": weeks,
		"total": len(weeks),
	})
}

// ListRuns handles GET /analyze/{week}/runs
func (h *AnalysisHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		middleware.WriteError(w, http.StatusNotFound, "Run history is disabled")
		return
	}

	week, ok := pathWeek(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), week, limit)
	if err != nil {
		h.log.Error().Err(err).Str("calendar_week", week.String()).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run))
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"calendar_week": week.String(),
		"runs":          out,
		"count":         len(out),
	})
}

func (h *AnalysisHandler) writeLedgerError(w http.ResponseWriter, week domain.WeekID, err error) {
	if errors.Is(err, domain.ErrLedgerNotFound) {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("No analysis results found for %s. Run analysis first.", week))
		return
	}
	h.log.Error().Err(err).Str("calendar_week", week.String()).Msg("Failed to read ledger")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to retrieve analysis results")
}

func ledgerETag(data []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
}

// etagMatches implements the If-None-Match comparison, including lists and "*".
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
