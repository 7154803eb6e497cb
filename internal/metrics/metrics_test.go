package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveVerdict(t *testing.T) {
	m := NewMetrics()
	m.ObserveVerdict("attack", "rule_based", []string{"high_packet_count", "long_duration"})
	m.ObserveVerdict("benign", "model_based", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("attack", "rule_based")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("benign", "model_based")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleFlagsTotal.WithLabelValues("long_duration")))
}

func TestObserveAttackType(t *testing.T) {
	m := NewMetrics()
	m.ObserveAttackType("dos", false)
	m.ObserveAttackType("probe", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttackTypesTotal.WithLabelValues("dos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogClampsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveVerdict("attack", "rule_based", []string{"x"})
		m.ObserveAttackType("dos", true)
		m.IncSchemaErrors()
		m.IncClassifierErrors("m")
		m.IncSinkErrors("nats")
		m.ObserveLatency("binary", time.Now())
	})
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.IncSinkErrors("db")
	m.ObserveLatency("binary", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `netflow_sink_errors_total{sink="db"} 1`)
	assert.Contains(t, string(body), "netflow_decision_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
