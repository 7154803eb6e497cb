package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/features"
	"github.com/veil-waf/veil-netflow/internal/model"
)

const modelName = "balanced_random_forest"

var columns = []string{
	"dur", "spkts", "dpkts", "sbytes", "dbytes", "response_body_len",
	features.PacketRatio, features.ByteRatio,
	"proto_tcp", "service_http", "service_unknown", "service_snmp", "state_FIN",
}

const quietFlow = `{"spkts": 10, "dpkts": 8, "sbytes": 900, "dbytes": 1500, "dur": 0.4,
	"response_body_len": 0, "proto": "tcp", "service": "http", "state": "FIN"}`

const noisyFlow = `{"spkts": 5000, "dpkts": 8, "sbytes": 900, "dbytes": 1500, "dur": 90,
	"response_body_len": 0, "proto": "tcp", "service": "-", "state": "FIN"}`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClassifier struct {
	proba []float64
	err   error
}

func (s *stubClassifier) Name() string           { return modelName }
func (s *stubClassifier) FeatureNames() []string { return columns }

func (s *stubClassifier) PredictProba(context.Context, *features.Vector) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]float64(nil), s.proba...), nil
}

// newPipeline builds a pipeline over stub models. A nil multiProba leaves
// the multiclass model out.
func newPipeline(t *testing.T, binary *stubClassifier, multiProba []float64) (*classify.Pipeline, *model.Registry) {
	t.Helper()
	var mc map[string]model.Multiclass
	if multiProba != nil {
		mc = map[string]model.Multiclass{modelName: {
			Classifier: &stubClassifier{proba: multiProba},
			Encoder:    model.NewLabelEncoder([]string{"benign", "dos", "probe"}),
		}}
	}
	reg := model.NewRegistry(map[string]model.Classifier{modelName: binary}, mc)
	p, err := classify.NewPipeline(reg, classify.Options{
		ModelName: modelName,
		Threshold: classify.DefaultAttackThreshold,
		Rules:     classify.DefaultRuleConfig(),
	}, nil, discard())
	require.NoError(t, err)
	return p, reg
}

type memStore struct {
	mu       sync.Mutex
	verdicts []db.VerdictEntry
	err      error
}

func (m *memStore) InsertVerdict(_ context.Context, v *db.VerdictEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verdicts = append(m.verdicts, *v)
	return nil
}

func (m *memStore) GetVerdict(_ context.Context, id string) (*db.VerdictEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, v := range m.verdicts {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) RecentVerdicts(_ context.Context, limit int) ([]db.VerdictEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []db.VerdictEntry
	for i := len(m.verdicts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.verdicts[i])
	}
	return out, nil
}

func (m *memStore) Stats(context.Context) (*db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &db.Stats{AttackTypes: []db.AttackTypeCount{}}
	for _, v := range m.verdicts {
		if v.Operation == db.OpBinary {
			s.TotalVerdicts++
			if v.Label == classify.LabelAttack {
				s.Attacks++
			}
		}
	}
	return s, nil
}

func (m *memStore) snapshot() []db.VerdictEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.VerdictEntry(nil), m.verdicts...)
}

type recordingBroadcaster struct {
	mu  sync.Mutex
	ids []string
}

func (b *recordingBroadcaster) Broadcast(v *db.VerdictEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, v.ID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(*db.VerdictEntry) error { return errors.New("nats: connection closed") }

func post(h http.HandlerFunc, body, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.RemoteAddr = "192.0.2.7:40000"
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}
