package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/features"
)

// Explainer narrates a verdict.
type Explainer interface {
	Enabled() bool
	Explain(ctx context.Context, verdict *classify.BinaryResult, analysis *classify.AnalysisBundle) (*classify.Explanation, error)
}

// FlowHandler serves the decision endpoints. It only adapts HTTP to the
// pipeline; every decision is made there.
type FlowHandler struct {
	pipeline  *classify.Pipeline
	explainer Explainer
	sinks     *Sinks
	logger    *slog.Logger
}

// NewFlowHandler creates a FlowHandler. explainer and sinks may be nil.
func NewFlowHandler(pipeline *classify.Pipeline, explainer Explainer, sinks *Sinks, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{pipeline: pipeline, explainer: explainer, sinks: sinks, logger: logger}
}

// PredictBinary handles POST /predict/binary.
func (fh *FlowHandler) PredictBinary(w http.ResponseWriter, r *http.Request) {
	rec, ok := fh.record(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := fh.pipeline.PredictBinary(r.Context(), rec)
	if err != nil {
		writeError(w, fh.logger, r, err)
		return
	}

	label := classify.LabelBenign
	if res.Prediction == 1 {
		label = classify.LabelAttack
	}
	entry := &db.VerdictEntry{
		ID:             uuid.NewString(),
		Timestamp:      start.UTC(),
		Operation:      db.OpBinary,
		Label:          label,
		Confidence:     res.Probability,
		DecisionSource: string(res.DecisionSource),
		Flags:          res.Flags,
		Model:          res.ModelUsed,
		SourceIP:       clientIP(r),
		LatencyMs:      sinceMs(start),
	}
	w.Header().Set("X-Verdict-ID", entry.ID)
	writeJSON(w, res)
	fh.sinks.Deliver(r.Context(), entry)
}

// PredictMulticlass handles POST /predict/multiclass.
func (fh *FlowHandler) PredictMulticlass(w http.ResponseWriter, r *http.Request) {
	rec, ok := fh.record(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := fh.pipeline.PredictMulticlass(r.Context(), rec)
	if err != nil {
		writeError(w, fh.logger, r, err)
		return
	}

	entry := &db.VerdictEntry{
		ID:         uuid.NewString(),
		Timestamp:  start.UTC(),
		Operation:  db.OpMulticlass,
		Label:      res.Label,
		AttackType: res.Label,
		Confidence: res.Confidence,
		Flags:      []string{},
		Model:      fh.pipeline.ModelName(),
		SourceIP:   clientIP(r),
		LatencyMs:  sinceMs(start),
	}
	w.Header().Set("X-Verdict-ID", entry.ID)
	writeJSON(w, res)
	fh.sinks.Deliver(r.Context(), entry)
}

// Analyze handles POST /analyze. It reports signals only, so nothing is
// logged as a verdict.
func (fh *FlowHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	rec, ok := fh.record(w, r)
	if !ok {
		return
	}
	bundle, err := fh.pipeline.Analyze(r.Context(), rec)
	if err != nil {
		writeError(w, fh.logger, r, err)
		return
	}
	writeJSON(w, bundle)
}

// Explain handles POST /explain: binary verdict plus analysis, narrated.
func (fh *FlowHandler) Explain(w http.ResponseWriter, r *http.Request) {
	if fh.explainer == nil || !fh.explainer.Enabled() {
		writeError(w, fh.logger, r, classify.ErrExplainerDisabled)
		return
	}
	rec, ok := fh.record(w, r)
	if !ok {
		return
	}

	verdict, err := fh.pipeline.PredictBinary(r.Context(), rec)
	if err != nil {
		writeError(w, fh.logger, r, err)
		return
	}
	analysis, err := fh.pipeline.Analyze(r.Context(), rec)
	if err != nil {
		writeError(w, fh.logger, r, err)
		return
	}
	explanation, err := fh.explainer.Explain(r.Context(), verdict, analysis)
	if err != nil {
		fh.logger.Error("explain failed", "err", err)
		jsonError(w, "explanation unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, explanation)
}

func (fh *FlowHandler) record(w http.ResponseWriter, r *http.Request) (features.Record, bool) {
	rec, err := decodeRecord(w, r)
	switch {
	case err == nil:
		return rec, true
	case errors.Is(err, errNotJSON):
		jsonError(w, "Request must be JSON", http.StatusBadRequest)
	default:
		jsonError(w, err.Error(), http.StatusBadRequest)
	}
	return nil, false
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
