// Package model loads trained classifier artifacts and exposes them behind
// the Classifier interface the decision pipeline consumes.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/veil-waf/veil-netflow/internal/features"
)

// Artifact kinds.
const (
	KindForest = "forest"
	KindLinear = "linear"
)

// Classifier predicts class probabilities for one aligned feature row.
type Classifier interface {
	Name() string
	// FeatureNames is the ordered schema the classifier was trained on.
	FeatureNames() []string
	PredictProba(ctx context.Context, v *features.Vector) ([]float64, error)
}

// Artifact is the on-disk JSON form of a trained model.
type Artifact struct {
	Name           string      `json:"name"`
	Kind           string      `json:"kind"`
	FeatureNamesIn []string    `json:"feature_names_in"`
	NClasses       int         `json:"n_classes"`
	Classes        []string    `json:"classes,omitempty"`
	Trees          []Tree      `json:"trees,omitempty"`
	Coef           [][]float64 `json:"coef,omitempty"`
	Intercept      []float64   `json:"intercept,omitempty"`
}

// Tree mirrors the flat arrays of a fitted CART tree. A node is a leaf when
// ChildrenLeft is -1; otherwise x[Feature] <= Threshold goes left.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// DecodeArtifact reads and validates one artifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks that the artifact is internally consistent, so prediction
// never indexes out of range or loops.
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return errors.New("artifact has no name")
	}
	if len(a.FeatureNamesIn) == 0 {
		return fmt.Errorf("artifact %s: no feature_names_in", a.Name)
	}
	if a.NClasses < 2 {
		return fmt.Errorf("artifact %s: n_classes must be at least 2", a.Name)
	}
	nf := len(a.FeatureNamesIn)

	switch a.Kind {
	case KindForest:
		if len(a.Trees) == 0 {
			return fmt.Errorf("artifact %s: forest has no trees", a.Name)
		}
		for i, t := range a.Trees {
			if err := t.validate(nf, a.NClasses); err != nil {
				return fmt.Errorf("artifact %s: tree %d: %w", a.Name, i, err)
			}
		}
	case KindLinear:
		rows := a.NClasses
		if a.NClasses == 2 {
			rows = 1
		}
		if len(a.Coef) != rows || len(a.Intercept) != rows {
			return fmt.Errorf("artifact %s: linear model needs %d coef rows and intercepts", a.Name, rows)
		}
		for i, row := range a.Coef {
			if len(row) != nf {
				return fmt.Errorf("artifact %s: coef row %d has %d weights, want %d", a.Name, i, len(row), nf)
			}
		}
	default:
		return fmt.Errorf("artifact %s: unknown kind %q", a.Name, a.Kind)
	}
	return nil
}

func (t Tree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return errors.New("node arrays differ in length")
	}
	for i := 0; i < n; i++ {
		if len(t.Value[i]) != nClasses {
			return fmt.Errorf("node %d value has %d classes, want %d", i, len(t.Value[i]), nClasses)
		}
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == -1 {
			if r != -1 {
				return fmt.Errorf("node %d has only one child", i)
			}
			continue
		}
		// Children always come after their parent in a fitted tree; enforcing
		// it guarantees traversal terminates.
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if f := t.Feature[i]; f < 0 || f >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, f, nFeatures)
		}
	}
	return nil
}

// Build turns a validated artifact into a Classifier.
func (a *Artifact) Build() (Classifier, error) {
	switch a.Kind {
	case KindForest:
		return &Forest{name: a.Name, featureNames: a.FeatureNamesIn, nClasses: a.NClasses, trees: a.Trees}, nil
	case KindLinear:
		return &Linear{name: a.Name, featureNames: a.FeatureNamesIn, nClasses: a.NClasses, coef: a.Coef, intercept: a.Intercept}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", a.Kind)
}

// Forest averages per-tree leaf class distributions.
type Forest struct {
	name         string
	featureNames []string
	nClasses     int
	trees        []Tree
}

func (f *Forest) Name() string           { return f.name }
func (f *Forest) FeatureNames() []string { return append([]string(nil), f.featureNames...) }

// PredictProba returns the mean of the normalized leaf distributions.
func (f *Forest) PredictProba(_ context.Context, v *features.Vector) ([]float64, error) {
	if v.Schema().Len() != len(f.featureNames) {
		return nil, fmt.Errorf("%s: got %d features, want %d", f.name, v.Schema().Len(), len(f.featureNames))
	}
	out := make([]float64, f.nClasses)
	for _, t := range f.trees {
		node := 0
		for t.ChildrenLeft[node] != -1 {
			if v.At(t.Feature[node]) <= t.Threshold[node] {
				node = t.ChildrenLeft[node]
			} else {
				node = t.ChildrenRight[node]
			}
		}
		leaf := t.Value[node]
		var total float64
		for _, c := range leaf {
			total += c
		}
		if total <= 0 {
			continue
		}
		for i, c := range leaf {
			out[i] += c / total
		}
	}
	for i := range out {
		out[i] /= float64(len(f.trees))
	}
	return out, nil
}

// Linear is a logistic (two classes) or softmax (more) model.
type Linear struct {
	name         string
	featureNames []string
	nClasses     int
	coef         [][]float64
	intercept    []float64
}

func (l *Linear) Name() string           { return l.name }
func (l *Linear) FeatureNames() []string { return append([]string(nil), l.featureNames...) }

// PredictProba applies the linear decision function and squashes it.
func (l *Linear) PredictProba(_ context.Context, v *features.Vector) ([]float64, error) {
	if v.Schema().Len() != len(l.featureNames) {
		return nil, fmt.Errorf("%s: got %d features, want %d", l.name, v.Schema().Len(), len(l.featureNames))
	}
	scores := make([]float64, len(l.coef))
	for k, row := range l.coef {
		s := l.intercept[k]
		for i, w := range row {
			s += w * v.At(i)
		}
		scores[k] = s
	}

	if l.nClasses == 2 {
		p := 1 / (1 + math.Exp(-scores[0]))
		return []float64{1 - p, p}, nil
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	var sum float64
	out := make([]float64, len(scores))
	for k, s := range scores {
		out[k] = math.Exp(s - maxScore)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out, nil
}
