package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Version is reported by the system endpoints.
const Version = "1.0.0"

// SystemInfo is the non-sensitive configuration the system endpoints expose.
type SystemInfo struct {
	AIModel          string
	SupportedFormats []string
	MaxFileSize      int64
	PhotosDir        string
	ResultsDir       string
	Debug            bool
}

// HealthCheck returns nil when the dependency it checks is usable.
type HealthCheck func(ctx context.Context) error

// SystemHandler handles the /system endpoints.
type SystemHandler struct {
	info        SystemInfo
	catalog     WeekCatalog
	aiAvailable bool
	checks      map[string]HealthCheck
	started     time.Time
	now         func() time.Time
	log         zerolog.Logger
}

// NewSystemHandler creates a new system handler. aiAvailable reports whether an
// inference client is configured; checks are run on every health request.
func NewSystemHandler(info SystemInfo, catalog WeekCatalog, aiAvailable bool, checks map[string]HealthCheck, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		info:        info,
		catalog:     catalog,
		aiAvailable: aiAvailable,
		checks:      checks,
		started:     time.Now(),
		now:         time.Now,
		log:         log,
	}
}

// Health handles GET /system/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthy := h.aiAvailable

	aiStatus := "available"
	if !h.aiAvailable {
		aiStatus = "unavailable"
	}

	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	now := h.now()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"timestamp":  now.UTC(),
		"version":    Version,
		"uptime":     now.Sub(h.started).Seconds(),
		"ai_service": aiStatus,
		"checks":     checks,
	})
}

// Info handles GET /system/info
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	available := []string{}
	weeks, err := h.catalog.ListWeeks(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to list weeks for system info")
	}
	for _, week := range weeks {
		available = append(available, week.String())
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"api_version":             Version,
		"go_version":              runtime.Version(),
		"supported_image_formats": h.info.SupportedFormats,
		"max_file_size":           h.info.MaxFileSize,
		"ai_model":                h.info.AIModel,
		"available_weeks":         available,
	})
}

// Config handles GET /system/config
func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ai_model":          h.info.AIModel,
		"supported_formats": h.info.SupportedFormats,
		"max_file_size_mb":  h.info.MaxFileSize >> 20,
		"photos_directory":  h.info.PhotosDir,
		"results_directory": h.info.ResultsDir,
		"debug_mode":        h.info.Debug,
	})
}
