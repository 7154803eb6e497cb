package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veil-waf/veil-netflow/internal/features"
)

var remoteClient = &http.Client{Timeout: 10 * time.Second}

// RemoteClassifier calls an external inference server that hosts the
// trained model, e.g. a sklearn model behind a small HTTP wrapper.
//
//	GET  {base}/v1/models/{name}                -> {"feature_names_in": [...], "classes": [...]}
//	POST {base}/v1/models/{name}/predict_proba  <- {"columns": [...], "rows": [[...]]}
//	                                            -> {"probabilities": [[...]]}
type RemoteClassifier struct {
	baseURL      string
	name         string
	featureNames []string
	classes      []string
	client       *http.Client
}

type remoteMetadata struct {
	FeatureNamesIn []string `json:"feature_names_in"`
	Classes        []string `json:"classes"`
}

// NewRemoteClassifier fetches the model's schema once; it is never refreshed.
func NewRemoteClassifier(ctx context.Context, baseURL, name string) (*RemoteClassifier, error) {
	rc := &RemoteClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		client:  remoteClient,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.modelURL(""), nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	data, err := rc.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s metadata: %w", name, err)
	}

	var meta remoteMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s metadata: %w", name, err)
	}
	if len(meta.FeatureNamesIn) == 0 {
		return nil, fmt.Errorf("model %s reported no feature_names_in", name)
	}
	rc.featureNames = meta.FeatureNamesIn
	rc.classes = meta.Classes
	return rc, nil
}

func (rc *RemoteClassifier) Name() string           { return rc.name }
func (rc *RemoteClassifier) FeatureNames() []string { return append([]string(nil), rc.featureNames...) }

// Encoder returns a label encoder over the classes the server reported.
func (rc *RemoteClassifier) Encoder() *LabelEncoder { return NewLabelEncoder(rc.classes) }

// PredictProba posts one aligned row and returns its probability vector.
func (rc *RemoteClassifier) PredictProba(ctx context.Context, v *features.Vector) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"columns": v.Schema().Columns(),
		"rows":    [][]float64{v.Values()},
	})
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.modelURL("/predict_proba"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := rc.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s predict_proba: %w", rc.name, err)
	}

	var resp struct {
		Probabilities [][]float64 `json:"probabilities"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", rc.name, err)
	}
	if len(resp.Probabilities) == 0 {
		return []float64{}, nil
	}
	return resp.Probabilities[0], nil
}

func (rc *RemoteClassifier) modelURL(suffix string) string {
	return rc.baseURL + "/v1/models/" + url.PathEscape(rc.name) + suffix
}

func (rc *RemoteClassifier) do(req *http.Request) ([]byte, error) {
	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned %d", resp.StatusCode)
	}
	return data, nil
}

// LoadRemote builds a registry for name from the inference server, which
// hosts it as {name}_binary and {name}_multiclass. The binary model is
// required. A multiclass model that is missing or reports no classes is left
// out with a warning, the same as a local multiclass artifact without classes
// would be rejected.
func LoadRemote(ctx context.Context, baseURL, name string, logger *slog.Logger) (*Registry, error) {
	binary, err := NewRemoteClassifier(ctx, baseURL, name+"_binary")
	if err != nil {
		return nil, err
	}

	multiclass := map[string]Multiclass{}
	mc, err := NewRemoteClassifier(ctx, baseURL, name+"_multiclass")
	switch {
	case err != nil:
		logger.Warn("remote multiclass model unavailable", "name", name, "err", err)
	case len(mc.classes) == 0:
		logger.Warn("remote multiclass model reported no classes; attack-type endpoints disabled", "name", name)
	default:
		multiclass[name] = Multiclass{Classifier: mc, Encoder: mc.Encoder()}
	}

	logger.Info("using remote inference server", "url", baseURL, "name", name, "multiclass", len(multiclass) > 0)
	return NewRegistry(map[string]Classifier{name: binary}, multiclass), nil
}
