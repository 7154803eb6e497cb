package classify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veil-waf/veil-netflow/internal/features"
)

var testColumns = []string{
	"dur", "spkts", "dpkts", "sbytes", "dbytes", "response_body_len",
	features.PacketRatio, features.ByteRatio, features.DurationPerPacket, features.ResponseRatio,
	"proto_tcp", "proto_udp",
	"service_http", "service_unknown", "service_snmp", "service_icmp",
	"state_FIN", "state_INT",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func record(overrides map[string]any) features.Record {
	rec := features.Record{
		"spkts":             10.0,
		"dpkts":             8.0,
		"sbytes":            900.0,
		"dbytes":            1500.0,
		"dur":               0.4,
		"response_body_len": 0.0,
		"proto":             "tcp",
		"service":           "http",
		"state":             "FIN",
	}
	for k, v := range overrides {
		rec[k] = v
	}
	return rec
}

func vector(t *testing.T, rec features.Record) *features.Vector {
	t.Helper()
	s, err := features.NewSchema(testColumns)
	require.NoError(t, err)
	v, err := features.Derive(rec, s)
	require.NoError(t, err)
	return v
}

// fakeClassifier returns a fixed distribution and counts calls.
type fakeClassifier struct {
	name  string
	cols  []string
	proba []float64
	err   error
	calls int
}

func (f *fakeClassifier) Name() string           { return f.name }
func (f *fakeClassifier) FeatureNames() []string { return f.cols }

func (f *fakeClassifier) PredictProba(_ context.Context, _ *features.Vector) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]float64(nil), f.proba...), nil
}

type staticCatalog []string

func (c staticCatalog) Classes() []string { return append([]string(nil), c...) }

func (c staticCatalog) InverseTransform(i int) (string, error) {
	return c[i], nil
}
