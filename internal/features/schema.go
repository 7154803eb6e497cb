package features

import (
	"errors"
	"fmt"
)

// Schema is the fixed, ordered column list a classifier was trained on.
// It is built once from the classifier's feature_names_in and never mutated.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema builds a Schema from an ordered column list.
func NewSchema(columns []string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, errors.New("schema has no columns")
	}
	s := &Schema{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("schema column %d is empty", i)
		}
		if _, dup := s.index[c]; dup {
			return nil, fmt.Errorf("duplicate schema column %q", c)
		}
		s.columns[i] = c
		s.index[c] = i
	}
	return s, nil
}

// Columns returns a copy of the ordered column names.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Index returns the position of a column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether two schemas have the same columns in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.columns) != len(o.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i] != o.columns[i] {
			return false
		}
	}
	return true
}

// Vector is one derived row aligned to a Schema.
type Vector struct {
	schema *Schema
	values []float64
}

// Schema returns the schema the vector is aligned to.
func (v *Vector) Schema() *Schema { return v.schema }

// Values returns a copy of the row in schema order.
func (v *Vector) Values() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// At returns the value in column i.
func (v *Vector) At(i int) float64 { return v.values[i] }

// Lookup returns the value of a named column and whether the schema has it.
func (v *Vector) Lookup(name string) (float64, bool) {
	i, ok := v.schema.index[name]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Value returns the value of a named column, or 0 when the schema lacks it.
func (v *Vector) Value(name string) float64 {
	f, _ := v.Lookup(name)
	return f
}

// Map returns the row as column -> value, mostly for logging and debugging.
func (v *Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.values))
	for i, c := range v.schema.columns {
		out[c] = v.values[i]
	}
	return out
}
