// Package web serves the HTML front end over the week ledgers.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/api/middleware"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Analyzer runs analyze_week.
type Analyzer interface {
	Analyze(ctx context.Context, week domain.WeekID, opts pipeline.Options) (*domain.AnalysisResult, error)
}

// LedgerLoader reads week ledgers.
type LedgerLoader interface {
	Load(ctx context.Context, week domain.WeekID) (*domain.Ledger, error)
}

// WeekLister lists week buckets in catalog order.
type WeekLister interface {
	ListWeeks(ctx context.Context) ([]domain.WeekID, error)
}

// Server renders the /receipts pages.
type Server struct {
	templates *template.Template
	analyzer  Analyzer
	ledgers   LedgerLoader
	weeks     WeekLister
	log       zerolog.Logger
}

// NewServer parses the embedded templates. analyzer may be nil, the analyse page
// then reports the service as unavailable.
func NewServer(analyzer Analyzer, ledgers LedgerLoader, weeks WeekLister, log zerolog.Logger) (*Server, error) {
	t, err := template.New("").Funcs(template.FuncMap{
		"euro": formatEuro,
	}).ParseFS(TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Server{
		templates: t,
		analyzer:  analyzer,
		ledgers:   ledgers,
		weeks:     weeks,
		log:       log,
	}, nil
}

// Register mounts the HTML routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("GET /{$}", http.RedirectHandler("/receipts/home", http.StatusFound))
	mux.Handle("GET /receipts/home", s.html(s.handleHome))
	mux.Handle("GET /receipts/about", s.html(s.handleAbout))
	mux.Handle("GET /receipts/show", s.html(s.handleShow))
	mux.Handle("GET /receipts/upload", s.html(s.handleUpload))
	mux.Handle("POST /receipts/upload", s.html(s.handleUploadPost))
	mux.Handle("GET /receipts/analyse", s.html(s.handleAnalyseForm))
	mux.Handle("POST /receipts/analyse", s.html(s.handleAnalyse))
	mux.Handle("GET /receipts/result_out", http.RedirectHandler("/receipts/show", http.StatusFound))
	mux.Handle("GET /receipts/result_out/{week}", s.html(s.handleResult))
}

func (s *Server) html(h http.HandlerFunc) http.Handler {
	return middleware.SecurityHeaders(h)
}

type flash struct {
	Kind    string
	Message string
}

type page struct {
	Title string
	Flash *flash
}

func flashFrom(r *http.Request) *flash {
	msg := r.URL.Query().Get("notice")
	if msg == "" {
		return nil
	}
	kind := r.URL.Query().Get("kind")
	if kind != "success" && kind != "error" {
		kind = "info"
	}
	return &flash{Kind: kind, Message: msg}
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, target, kind, msg string) {
	q := url.Values{}
	q.Set("notice", msg)
	q.Set("kind", kind)
	http.Redirect(w, r, target+"?"+q.Encode(), http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Str("path", r.URL.Path).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) availableWeeks(ctx context.Context) []domain.WeekID {
	weeks, err := s.weeks.ListWeeks(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list weeks")
		return nil
	}
	return weeks
}

type homePage struct {
	page
	Weeks []domain.WeekID
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "home.html", homePage{
		page:  page{Title: "Receipt Ledger", Flash: flashFrom(r)},
		Weeks: s.availableWeeks(r.Context()),
	})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "about.html", page{Title: "About", Flash: flashFrom(r)})
}

type weekRow struct {
	Week          domain.WeekID
	TotalFood     decimal.Decimal
	TotalNonFood  decimal.Decimal
	GrandTotal    decimal.Decimal
	TotalReceipts int
}

type showPage struct {
	page
	Results []weekRow
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	p := showPage{page: page{Title: "Results", Flash: flashFrom(r)}}

	for _, week := range s.availableWeeks(r.Context()) {
		l, err := s.ledgers.Load(r.Context(), week)
		if err != nil {
			if !errors.Is(err, domain.ErrLedgerNotFound) {
				s.log.Warn().Err(err).Str("calendar_week", week.String()).Msg("Failed to load ledger")
			}
			continue
		}
		sum := ledger.Summarize(l)
		p.Results = append(p.Results, weekRow{
			Week:          week,
			TotalFood:     sum.TotalFood,
			TotalNonFood:  sum.TotalNonFood,
			GrandTotal:    sum.GrandTotal(),
			TotalReceipts: sum.TotalReceipts,
		})
	}

	s.render(w, r, http.StatusOK, "show.html", p)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "upload.html", page{Title: "Upload", Flash: flashFrom(r)})
}

func (s *Server) handleUploadPost(w http.ResponseWriter, r *http.Request) {
	redirectWithFlash(w, r, "/receipts/home", "info", "File upload is not available yet. Copy photos into the week folder instead.")
}

type analysePage struct {
	page
	Weeks    []domain.WeekID
	Selected string
}

func (s *Server) handleAnalyseForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "analyse.html", analysePage{
		page:  page{Title: "Analyse", Flash: flashFrom(r)},
		Weeks: s.availableWeeks(r.Context()),
	})
}

func (s *Server) handleAnalyse(w http.ResponseWriter, r *http.Request) {
	p := analysePage{
		page:  page{Title: "Analyse"},
		Weeks: s.availableWeeks(r.Context()),
	}

	if err := r.ParseForm(); err != nil {
		p.Flash = &flash{Kind: "error", Message: "Invalid form submission"}
		s.render(w, r, http.StatusBadRequest, "analyse.html", p)
		return
	}

	raw := strings.TrimSpace(r.PostFormValue("calendar_week"))
	p.Selected = raw
	if raw == "" {
		p.Flash = &flash{Kind: "error", Message: "Please select a calendar week"}
		s.render(w, r, http.StatusBadRequest, "analyse.html", p)
		return
	}

	week, err := domain.ParseWeekID(raw)
	if err != nil {
		p.Flash = &flash{Kind: "error", Message: "Calendar week must look like 2025CW_30"}
		s.render(w, r, http.StatusBadRequest, "analyse.html", p)
		return
	}

	if s.analyzer == nil {
		p.Flash = &flash{Kind: "error", Message: "Analysis service not available"}
		s.render(w, r, http.StatusServiceUnavailable, "analyse.html", p)
		return
	}

	result, err := s.analyzer.Analyze(context.WithoutCancel(r.Context()), week, pipeline.Options{Force: r.PostFormValue("force_reanalysis") != ""})
	if err != nil {
		s.log.Error().Err(err).Str("calendar_week", week.String()).Msg("Analysis failed")
		p.Flash = &flash{Kind: "error", Message: fmt.Sprintf("Analysis error: %v", err)}
		s.render(w, r, http.StatusInternalServerError, "analyse.html", p)
		return
	}

	if !result.Performed() {
		p.Flash = &flash{Kind: "error", Message: fmt.Sprintf("No photos found for %s", week)}
		s.render(w, r, http.StatusNotFound, "analyse.html", p)
		return
	}

	msg := fmt.Sprintf("Analysis completed for %s! Total: %s", week, formatEuro(result.Summary.GrandTotal()))
	kind := "success"
	if n := len(result.Failures); n > 0 {
		msg += fmt.Sprintf(" (%d file(s) could not be analyzed)", n)
		kind = "info"
	}
	redirectWithFlash(w, r, "/receipts/result_out/"+url.PathEscape(week.String()), kind, msg)
}

type receiptRow struct {
	Datum        string
	Uhrzeit      string
	SummeFood    decimal.Decimal
	SummeNonFood decimal.Decimal
	FotoDatei    string
}

type resultPage struct {
	page
	Week         domain.WeekID
	Found        bool
	Summary      domain.Summary
	Receipts     []receiptRow
	AnalysisDate time.Time
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	p := resultPage{page: page{Title: "Result", Flash: flashFrom(r)}}

	week, err := domain.ParseWeekID(r.PathValue("week"))
	if err != nil {
		p.Flash = &flash{Kind: "error", Message: "Calendar week must look like 2025CW_30"}
		s.render(w, r, http.StatusBadRequest, "result.html", p)
		return
	}
	p.Week = week

	l, err := s.ledgers.Load(r.Context(), week)
	if err != nil {
		status := http.StatusNotFound
		p.Flash = &flash{Kind: "error", Message: fmt.Sprintf("No results found for %s. Run analysis first.", week)}
		if !errors.Is(err, domain.ErrLedgerNotFound) {
			s.log.Error().Err(err).Str("calendar_week", week.String()).Msg("Failed to load ledger")
			status = http.StatusInternalServerError
			p.Flash = &flash{Kind: "error", Message: "Error loading results"}
		}
		s.render(w, r, status, "result.html", p)
		return
	}

	p.Found = true
	p.Summary = ledger.Summarize(l)
	p.AnalysisDate = l.ModTime
	for _, rec := range l.Records {
		p.Receipts = append(p.Receipts, receiptRow{
			Datum:        rec.Date,
			Uhrzeit:      rec.Time,
			SummeFood:    rec.FoodTotal.Decimal(),
			SummeNonFood: rec.NonFoodTotal.Decimal(),
			FotoDatei:    rec.SourceFile,
		})
	}

	s.render(w, r, http.StatusOK, "result.html", p)
}
