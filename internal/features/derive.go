// Package features turns a raw flow record into the exact numeric row a
// classifier was trained on: engineered ratios, one-hot categoricals and
// column alignment against a fixed Schema.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Epsilon is added to every ratio denominator so all-zero counters give a
// large finite value instead of Inf or NaN.
const Epsilon = 1e-6

// UnknownService replaces the "-" sentinel in the service field.
const UnknownService = "unknown"

// Engineered ratio column names.
const (
	PacketRatio       = "packet_ratio"
	ByteRatio         = "byte_ratio"
	DurationPerPacket = "duration_per_packet"
	ResponseRatio     = "response_ratio"
)

// NumericFields must be present in every record as JSON numbers.
var NumericFields = []string{"spkts", "dpkts", "sbytes", "dbytes", "dur", "response_body_len"}

// CategoricalFields are one-hot expanded into {field}_{value} columns.
var CategoricalFields = []string{"proto", "service", "state"}

// Record is one flow as decoded from JSON.
type Record map[string]any

// SchemaError reports a missing or malformed field in a raw record.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// IsSchemaError reports whether err is, or wraps, a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Derive converts rec into a Vector aligned to schema. Columns the record
// produces but the schema does not know are dropped; schema columns the
// record does not produce are zero.
func Derive(rec Record, schema *Schema) (*Vector, error) {
	if schema == nil {
		return nil, errors.New("derive: nil schema")
	}

	nums := make(map[string]float64, len(NumericFields))
	for _, f := range NumericFields {
		raw, ok := rec[f]
		if !ok || raw == nil {
			return nil, &SchemaError{Field: f, Reason: "missing required field"}
		}
		n, ok := toFloat(raw)
		if !ok {
			return nil, &SchemaError{Field: f, Reason: fmt.Sprintf("expected a number, got %T", raw)}
		}
		if n < 0 {
			return nil, &SchemaError{Field: f, Reason: "must not be negative"}
		}
		nums[f] = n
	}

	cats := make(map[string]string, len(CategoricalFields))
	for _, f := range CategoricalFields {
		raw, ok := rec[f]
		if !ok || raw == nil {
			return nil, &SchemaError{Field: f, Reason: "missing required field"}
		}
		s, ok := raw.(string)
		if !ok {
			return nil, &SchemaError{Field: f, Reason: fmt.Sprintf("expected a string, got %T", raw)}
		}
		cats[f] = s
	}
	if cats["service"] == "-" {
		cats["service"] = UnknownService
	}

	cols := make(map[string]float64, len(rec)+8)
	for k, raw := range rec {
		if isCategorical(k) {
			continue
		}
		if n, ok := toFloat(raw); ok {
			cols[k] = n
		}
	}

	cols[PacketRatio] = Ratio(nums["spkts"], nums["dpkts"])
	cols[ByteRatio] = Ratio(nums["sbytes"], nums["dbytes"])
	cols[DurationPerPacket] = Ratio(nums["dur"], nums["spkts"]+nums["dpkts"])
	cols[ResponseRatio] = Ratio(nums["response_body_len"], nums["sbytes"])

	for _, f := range CategoricalFields {
		cols[f+"_"+cats[f]] = 1
	}

	values := make([]float64, schema.Len())
	for i, c := range schema.columns {
		if v, ok := cols[c]; ok {
			values[i] = v
			continue
		}
		// A schema column backed by a non-numeric record field cannot be filled.
		if raw, ok := rec[c]; ok && raw != nil && !isCategorical(c) {
			return nil, &SchemaError{Field: c, Reason: fmt.Sprintf("expected a number, got %T", raw)}
		}
	}
	return &Vector{schema: schema, values: values}, nil
}

// Ratio divides with Epsilon added to the denominator. Inputs are finite and
// non-negative, so only overflow can leave the finite range; it saturates.
func Ratio(num, den float64) float64 {
	r := num / (den + Epsilon)
	if math.IsInf(r, 1) {
		return math.MaxFloat64
	}
	return r
}

func isCategorical(field string) bool {
	for _, f := range CategoricalFields {
		if f == field {
			return true
		}
	}
	return false
}

// toFloat accepts the numeric shapes encoding/json and Go callers produce.
// Non-finite values are rejected so every derived column stays finite.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
