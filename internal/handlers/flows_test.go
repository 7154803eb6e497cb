package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/metrics"
)

func TestPredictBinary_ResponseShape(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.3, 0.7}}, nil)
	fh := NewFlowHandler(p, nil, nil, discard())

	rec := post(fh.PredictBinary, quietFlow, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Verdict-ID"))
	assert.JSONEq(t, `{
		"prediction": 1,
		"probability": 0.7,
		"threshold_used": 0.6,
		"interpretation": "Attack",
		"suspicious_features": [],
		"decision_source": "model_based",
		"model_used": "balanced_random_forest"
	}`, rec.Body.String())
}

func TestPredictBinary_RuleOverride(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.95, 0.05}}, nil)
	fh := NewFlowHandler(p, nil, nil, discard())

	rec := post(fh.PredictBinary, noisyFlow, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var res classify.BinaryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Prediction)
	assert.Equal(t, 0.8, res.Probability)
	assert.Equal(t, classify.RuleBased, res.DecisionSource)
	assert.Equal(t, []string{"high_packet_count", "long_duration", "suspicious_service_unknown"}, res.Flags)
}

func TestPredictBinary_DeliversToSinks(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.9, 0.1}}, nil)
	store := &memStore{}
	ws := &recordingBroadcaster{}
	m := metrics.NewMetrics()
	sinks := &Sinks{Store: store, WS: ws, Events: failingPublisher{}, Metrics: m, Logger: discard()}
	fh := NewFlowHandler(p, nil, sinks, discard())

	rec := post(fh.PredictBinary, quietFlow, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	sinks.Wait()

	logged := store.snapshot()
	require.Len(t, logged, 1)
	assert.Equal(t, rec.Header().Get("X-Verdict-ID"), logged[0].ID)
	assert.Equal(t, db.OpBinary, logged[0].Operation)
	assert.Equal(t, classify.LabelBenign, logged[0].Label)
	assert.Equal(t, "192.0.2.7", logged[0].SourceIP)
	assert.Equal(t, []string{logged[0].ID}, ws.ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrorsTotal.WithLabelValues("nats")))
}

func TestPredict_RequestErrors(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.5, 0.5}}, nil)
	fh := NewFlowHandler(p, nil, nil, discard())

	tests := []struct {
		name        string
		body        string
		contentType string
		wantError   string
	}{
		{"not json content type", quietFlow, "text/plain", "Request must be JSON"},
		{"missing content type", quietFlow, "", "Request must be JSON"},
		{"malformed body", `{"spkts": `, "application/json", ""},
		{"array body", `[1, 2]`, "application/json", ""},
		{"null body", `null`, "application/json", ""},
		{"missing field", `{"spkts": 1}`, "application/json", `field "dpkts": missing required field`},
		{"string counter", `{"spkts": "many", "dpkts": 1, "sbytes": 1, "dbytes": 1, "dur": 1,
			"response_body_len": 0, "proto": "tcp", "service": "http", "state": "FIN"}`, "application/json", `field "spkts"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(fh.PredictBinary, tt.body, tt.contentType)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantError)
		})
	}
}

func TestPredictBinary_ClassifierFailureIs500(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{err: errors.New("model crashed")}, nil)
	fh := NewFlowHandler(p, nil, nil, discard())

	rec := post(fh.PredictBinary, quietFlow, "application/json")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "model crashed")
}

func TestPredictMulticlass(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.5, 0.5}}, []float64{0.1, 0.2, 0.3, 0.4})
	store := &memStore{}
	sinks := &Sinks{Store: store, Logger: discard()}
	fh := NewFlowHandler(p, nil, sinks, discard())

	rec := post(fh.PredictMulticlass, quietFlow, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"prediction": 2,
		"attack_type": "probe",
		"probabilities": {"benign": 0.1, "dos": 0.2, "probe": 0.3}
	}`, rec.Body.String())

	sinks.Wait()
	logged := store.snapshot()
	require.Len(t, logged, 1)
	assert.Equal(t, db.OpMulticlass, logged[0].Operation)
	assert.Equal(t, "probe", logged[0].AttackType)
	// The winning slot was clamped onto "probe"; the log keeps its 0.4.
	assert.Equal(t, 0.4, logged[0].Confidence)
}

func TestMulticlassWithoutModelIs503(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.5, 0.5}}, nil)
	fh := NewFlowHandler(p, nil, nil, discard())

	assert.Equal(t, http.StatusServiceUnavailable, post(fh.PredictMulticlass, quietFlow, "application/json").Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(fh.Analyze, quietFlow, "application/json").Code)
}

func TestAnalyze(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.4, 0.6}}, []float64{0.7, 0.2, 0.1})
	fh := NewFlowHandler(p, nil, nil, discard())

	rec := post(fh.Analyze, `{"spkts": 20, "dpkts": 0, "sbytes": 0, "dbytes": 0, "dur": 3,
		"response_body_len": 0, "proto": "tcp", "service": "snmp", "state": "FIN"}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var bundle classify.AnalysisBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.InDelta(t, 20/1e-6, bundle.FeatureAnalysis.PacketImbalance, 1e-3)
	assert.Equal(t, 0.0, bundle.FeatureAnalysis.ByteImbalance)
	assert.Equal(t, 3.0, bundle.FeatureAnalysis.Duration)
	assert.True(t, bundle.FeatureAnalysis.IsSuspiciousService)
	assert.Equal(t, 0.6, bundle.ModelPredictions.Binary)
	assert.Equal(t, map[string]float64{"benign": 0.7, "dos": 0.2, "probe": 0.1}, bundle.ModelPredictions.Multiclass)
}

type stubExplainer struct {
	enabled bool
	err     error
}

func (s *stubExplainer) Enabled() bool { return s.enabled }

func (s *stubExplainer) Explain(_ context.Context, v *classify.BinaryResult, a *classify.AnalysisBundle) (*classify.Explanation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &classify.Explanation{Verdict: v, Analysis: a, Summary: "long flow on an unknown service", Model: "stub"}, nil
}

func TestExplain(t *testing.T) {
	p, _ := newPipeline(t, &stubClassifier{proba: []float64{0.2, 0.8}}, []float64{0.1, 0.8, 0.1})

	t.Run("disabled", func(t *testing.T) {
		fh := NewFlowHandler(p, &stubExplainer{}, nil, discard())
		assert.Equal(t, http.StatusServiceUnavailable, post(fh.Explain, quietFlow, "application/json").Code)

		fh = NewFlowHandler(p, nil, nil, discard())
		assert.Equal(t, http.StatusServiceUnavailable, post(fh.Explain, quietFlow, "application/json").Code)
	})

	t.Run("enabled", func(t *testing.T) {
		fh := NewFlowHandler(p, &stubExplainer{enabled: true}, nil, discard())
		rec := post(fh.Explain, quietFlow, "application/json")
		require.Equal(t, http.StatusOK, rec.Code)

		var out classify.Explanation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "long flow on an unknown service", out.Summary)
		assert.Equal(t, 1, out.Verdict.Prediction)
		assert.Equal(t, 0.8, out.Analysis.ModelPredictions.Binary)
	})

	t.Run("llm failure", func(t *testing.T) {
		fh := NewFlowHandler(p, &stubExplainer{enabled: true, err: errors.New("throttled")}, nil, discard())
		assert.Equal(t, http.StatusBadGateway, post(fh.Explain, quietFlow, "application/json").Code)
	})
}
