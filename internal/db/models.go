package db

import "time"

// Verdict operations.
const (
	OpBinary     = "binary"
	OpMulticlass = "multiclass"
)

// VerdictEntry is one row of the verdict log. JSON names match the column
// names so NOTIFY payloads (row_to_json) decode into the same struct.
type VerdictEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Operation      string    `json:"operation"`
	Label          string    `json:"label"`
	AttackType     string    `json:"attack_type,omitempty"`
	Confidence     float64   `json:"confidence"`
	DecisionSource string    `json:"decision_source,omitempty"`
	Flags          []string  `json:"suspicious_features"`
	Model          string    `json:"model"`
	SourceIP       string    `json:"source_ip,omitempty"`
	LatencyMs      float64   `json:"latency_ms"`
}

// Stats summarizes the verdict log.
type Stats struct {
	TotalVerdicts int64             `json:"total_verdicts"`
	Attacks       int64             `json:"attacks"`
	RuleBased     int64             `json:"rule_based"`
	ModelBased    int64             `json:"model_based"`
	AttackRate    float64           `json:"attack_rate"`
	AvgLatencyMs  float64           `json:"avg_latency_ms"`
	AttackTypes   []AttackTypeCount `json:"attack_types"`
}

type AttackTypeCount struct {
	AttackType string `json:"attack_type"`
	Count      int64  `json:"count"`
}
