package classify

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDistribution is returned when a classifier produced no probabilities.
	ErrEmptyDistribution = errors.New("classifier returned an empty probability distribution")

	// ErrEmptyCatalog is returned when the label catalog has no classes.
	ErrEmptyCatalog = errors.New("label catalog has no classes")
)

// LabelCatalog is the ordered class list a multiclass classifier was trained on.
type LabelCatalog interface {
	Classes() []string
	InverseTransform(index int) (string, error)
}

// Resolve picks the most likely class (lowest index on ties) and names it.
// An index past the end of the catalog means the classifier and encoder
// artifacts disagree; it is clamped to the last label and flagged as Clamped
// instead of failing the request.
func Resolve(proba []float64, catalog LabelCatalog) (*AttackTypeVerdict, error) {
	if len(proba) == 0 {
		return nil, ErrEmptyDistribution
	}
	classes := catalog.Classes()
	if len(classes) == 0 {
		return nil, ErrEmptyCatalog
	}

	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}

	confidence := proba[best]
	clamped := false
	if best >= len(classes) {
		best = len(classes) - 1
		clamped = true
	}

	label, err := catalog.InverseTransform(best)
	if err != nil {
		return nil, fmt.Errorf("inverse transform %d: %w", best, err)
	}

	return &AttackTypeVerdict{
		ClassIndex:    best,
		Label:         label,
		Probabilities: probabilityMap(proba, classes),
		Confidence:    confidence,
		Clamped:       clamped,
	}, nil
}

// probabilityMap pairs every catalog label with its slot; labels past the end
// of proba get 0.
func probabilityMap(proba []float64, classes []string) map[string]float64 {
	out := make(map[string]float64, len(classes))
	for i, c := range classes {
		if i < len(proba) {
			out[c] = proba[i]
		} else {
			out[c] = 0
		}
	}
	return out
}
