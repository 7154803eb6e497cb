package model

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact file suffixes inside the models directory.
const (
	BinarySuffix     = "_binary.json"
	MulticlassSuffix = "_multiclass.json"
)

// ErrUnknownModel is returned when a registry has no model by that name.
var ErrUnknownModel = errors.New("unknown model")

// LabelEncoder maps multiclass indices back to class names.
type LabelEncoder struct {
	classes []string
}

// NewLabelEncoder creates an encoder over an ordered class list.
func NewLabelEncoder(classes []string) *LabelEncoder {
	return &LabelEncoder{classes: append([]string(nil), classes...)}
}

// Classes returns a copy of the ordered class names.
func (e *LabelEncoder) Classes() []string { return append([]string(nil), e.classes...) }

// InverseTransform returns the class name at index.
func (e *LabelEncoder) InverseTransform(index int) (string, error) {
	if index < 0 || index >= len(e.classes) {
		return "", fmt.Errorf("class index %d out of range [0,%d)", index, len(e.classes))
	}
	return e.classes[index], nil
}

// Multiclass pairs a multiclass classifier with its label encoder.
type Multiclass struct {
	Classifier Classifier
	Encoder    *LabelEncoder
}

// Registry holds every loaded model. It is built once at startup and only
// read afterwards, so it needs no locking.
type Registry struct {
	binary     map[string]Classifier
	multiclass map[string]Multiclass
}

// NewRegistry builds a registry from already constructed models.
func NewRegistry(binary map[string]Classifier, multiclass map[string]Multiclass) *Registry {
	r := &Registry{
		binary:     make(map[string]Classifier, len(binary)),
		multiclass: make(map[string]Multiclass, len(multiclass)),
	}
	for k, v := range binary {
		r.binary[k] = v
	}
	for k, v := range multiclass {
		r.multiclass[k] = v
	}
	return r
}

// Binary returns the named binary classifier.
func (r *Registry) Binary(name string) (Classifier, error) {
	c, ok := r.binary[name]
	if !ok {
		return nil, fmt.Errorf("binary %s: %w", name, ErrUnknownModel)
	}
	return c, nil
}

// Multiclass returns the named multiclass classifier and its encoder.
func (r *Registry) Multiclass(name string) (Multiclass, error) {
	m, ok := r.multiclass[name]
	if !ok {
		return Multiclass{}, fmt.Errorf("multiclass %s: %w", name, ErrUnknownModel)
	}
	return m, nil
}

// BinaryNames lists loaded binary models, sorted.
func (r *Registry) BinaryNames() []string { return sortedKeys(r.binary) }

// MulticlassNames lists loaded multiclass models, sorted.
func (r *Registry) MulticlassNames() []string { return sortedKeys(r.multiclass) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load reads every *_binary.json and *_multiclass.json artifact in dir.
// The model name is the file name without its suffix. Any unreadable or
// invalid artifact fails the whole load.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	binary := make(map[string]Classifier)
	multiclass := make(map[string]Multiclass)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := e.Name()
		var name string
		var isMulti bool
		switch {
		case strings.HasSuffix(file, BinarySuffix):
			name = strings.TrimSuffix(file, BinarySuffix)
		case strings.HasSuffix(file, MulticlassSuffix):
			name = strings.TrimSuffix(file, MulticlassSuffix)
			isMulti = true
		default:
			continue
		}

		art, err := readArtifact(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		clf, err := art.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		if !isMulti {
			binary[name] = clf
			logger.Info("loaded binary model", "name", name, "kind", art.Kind, "features", len(art.FeatureNamesIn))
			continue
		}
		if len(art.Classes) != art.NClasses {
			logger.Warn("label encoder and classifier disagree on class count",
				"name", name, "classes", len(art.Classes), "n_classes", art.NClasses)
		}
		if len(art.Classes) == 0 {
			return nil, fmt.Errorf("%s: multiclass artifact has no classes", file)
		}
		multiclass[name] = Multiclass{Classifier: clf, Encoder: NewLabelEncoder(art.Classes)}
		logger.Info("loaded multiclass model", "name", name, "kind", art.Kind, "classes", len(art.Classes))
	}

	if len(binary) == 0 && len(multiclass) == 0 {
		return nil, fmt.Errorf("no model artifacts in %s", dir)
	}
	return NewRegistry(binary, multiclass), nil
}

func readArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	art, err := DecodeArtifact(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return art, nil
}
