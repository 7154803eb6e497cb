package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inferenceServer(t *testing.T, proba []float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/brf", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"feature_names_in": []string{"spkts", "dur"},
			"classes":          []string{"benign", "dos"},
		})
	})
	mux.HandleFunc("POST /v1/models/brf/predict_proba", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Columns []string    `json:"columns"`
			Rows    [][]float64 `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, []string{"spkts", "dur"}, body.Columns)
		assert.Equal(t, [][]float64{{12, 1}}, body.Rows)
		json.NewEncoder(w).Encode(map[string]any{"probabilities": [][]float64{proba}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteClassifier(t *testing.T) {
	srv := inferenceServer(t, []float64{0.2, 0.8})

	rc, err := NewRemoteClassifier(context.Background(), srv.URL+"/", "brf")
	require.NoError(t, err)
	assert.Equal(t, "brf", rc.Name())
	assert.Equal(t, []string{"spkts", "dur"}, rc.FeatureNames())
	assert.Equal(t, []string{"benign", "dos"}, rc.Encoder().Classes())

	p, err := rc.PredictProba(context.Background(), row(t, rc.FeatureNames(), baseRecord(12)))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, p)
}

func TestRemoteClassifier_UnknownModel(t *testing.T) {
	srv := inferenceServer(t, nil)

	_, err := NewRemoteClassifier(context.Background(), srv.URL, "missing")
	assert.Error(t, err)
}

// modelServer serves metadata for brf_binary and, when multiClasses is not
// nil, for brf_multiclass with those classes.
func modelServer(t *testing.T, multiClasses []string) *httptest.Server {
	t.Helper()
	meta := func(classes []string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"feature_names_in": []string{"spkts", "dur"},
				"classes":          classes,
			})
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/brf_binary", meta([]string{"0", "1"}))
	if multiClasses != nil {
		mux.HandleFunc("GET /v1/models/brf_multiclass", meta(multiClasses))
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadRemote(t *testing.T) {
	srv := modelServer(t, []string{"benign", "dos"})

	reg, err := LoadRemote(context.Background(), srv.URL, "brf", discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"brf"}, reg.BinaryNames())

	mc, err := reg.Multiclass("brf")
	require.NoError(t, err)
	assert.Equal(t, []string{"benign", "dos"}, mc.Encoder.Classes())
}

func TestLoadRemote_MulticlassWithoutClassesIsDisabled(t *testing.T) {
	for name, classes := range map[string][]string{"no classes": {}, "not hosted": nil} {
		t.Run(name, func(t *testing.T) {
			srv := modelServer(t, classes)

			reg, err := LoadRemote(context.Background(), srv.URL, "brf", discard())
			require.NoError(t, err)
			assert.Empty(t, reg.MulticlassNames())
			_, err = reg.Multiclass("brf")
			assert.ErrorIs(t, err, ErrUnknownModel)
		})
	}
}

func TestLoadRemote_BinaryRequired(t *testing.T) {
	srv := inferenceServer(t, nil)

	_, err := LoadRemote(context.Background(), srv.URL, "missing", discard())
	assert.Error(t, err)
}
