package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/model"
)

const (
	defaultVerdictLimit = 50
	maxVerdictLimit     = 500
)

// DashboardHandler serves read-only views of the loaded models and the
// verdict log.
type DashboardHandler struct {
	registry *model.Registry
	pipeline *classify.Pipeline
	store    VerdictStore
	logger   *slog.Logger
}

// NewDashboardHandler creates a DashboardHandler. store may be nil.
func NewDashboardHandler(registry *model.Registry, pipeline *classify.Pipeline, store VerdictStore, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{registry: registry, pipeline: pipeline, store: store, logger: logger}
}

// GetModels handles GET /api/models
func (dh *DashboardHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	classes := dh.pipeline.Classes()
	if classes == nil {
		classes = []string{}
	}
	writeJSON(w, map[string]any{
		"active":            dh.pipeline.ModelName(),
		"binary_models":     dh.registry.BinaryNames(),
		"multiclass_models": dh.registry.MulticlassNames(),
		"feature_names":     dh.pipeline.Schema().Columns(),
		"classes":           classes,
		"threshold":         dh.pipeline.Threshold(),
		"rules":             dh.pipeline.Rules().Config(),
	})
}

// GetVerdicts handles GET /api/verdicts?limit=N
func (dh *DashboardHandler) GetVerdicts(w http.ResponseWriter, r *http.Request) {
	if dh.store == nil {
		writeError(w, dh.logger, r, errNoVerdictLog)
		return
	}
	limit := defaultVerdictLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxVerdictLimit)
	}

	verdicts, err := dh.store.RecentVerdicts(r.Context(), limit)
	if err != nil {
		dh.logger.Error("fetch verdicts failed", "err", err)
		jsonError(w, "failed to fetch verdicts", http.StatusInternalServerError)
		return
	}
	if verdicts == nil {
		verdicts = []db.VerdictEntry{}
	}
	writeJSON(w, verdicts)
}

// GetVerdict handles GET /api/verdicts/{id}
func (dh *DashboardHandler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	if dh.store == nil {
		writeError(w, dh.logger, r, errNoVerdictLog)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		jsonError(w, "verdict not found", http.StatusNotFound)
		return
	}
	v, err := dh.store.GetVerdict(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "verdict not found", http.StatusNotFound)
		return
	}
	if err != nil {
		dh.logger.Error("fetch verdict failed", "err", err)
		jsonError(w, "failed to fetch verdict", http.StatusInternalServerError)
		return
	}
	writeJSON(w, v)
}

// GetStats handles GET /api/stats
func (dh *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if dh.store == nil {
		writeError(w, dh.logger, r, errNoVerdictLog)
		return
	}
	stats, err := dh.store.Stats(r.Context())
	if err != nil {
		dh.logger.Error("fetch stats failed", "err", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}
