package classify

// Binary labels.
const (
	LabelBenign = "benign"
	LabelAttack = "attack"
)

// DecisionSource names the tier that settled a binary verdict.
type DecisionSource string

const (
	RuleBased  DecisionSource = "rule_based"
	ModelBased DecisionSource = "model_based"
)

// Verdict is the fused binary decision for one flow.
type Verdict struct {
	Label          string         `json:"label"`
	Confidence     float64        `json:"confidence"`
	DecisionSource DecisionSource `json:"decision_source"`
	Flags          []string       `json:"suspicious_features"`
}

// IsAttack reports whether the verdict label is attack.
func (v Verdict) IsAttack() bool { return v.Label == LabelAttack }

// BinaryResult is the /predict/binary response shape.
type BinaryResult struct {
	Prediction     int            `json:"prediction"`
	Probability    float64        `json:"probability"`
	ThresholdUsed  float64        `json:"threshold_used"`
	Interpretation string         `json:"interpretation"`
	Flags          []string       `json:"suspicious_features"`
	DecisionSource DecisionSource `json:"decision_source"`
	ModelUsed      string         `json:"model_used"`
	// ModelProbability is the classifier's raw attack probability before fusion.
	ModelProbability float64 `json:"-"`
}

// AttackTypeVerdict is the resolved multiclass output. Confidence is the
// winning probability, kept even when the index was clamped.
type AttackTypeVerdict struct {
	ClassIndex    int                `json:"prediction"`
	Label         string             `json:"attack_type"`
	Probabilities map[string]float64 `json:"probabilities"`
	Confidence    float64            `json:"-"`
	Clamped       bool               `json:"-"`
}

// FeatureAnalysis is the derived-signal half of an AnalysisBundle.
type FeatureAnalysis struct {
	PacketImbalance     float64 `json:"packet_imbalance"`
	ByteImbalance       float64 `json:"byte_imbalance"`
	Duration            float64 `json:"duration"`
	IsSuspiciousService bool    `json:"is_suspicious_service"`
}

// ModelPredictions holds both classifiers' raw outputs.
type ModelPredictions struct {
	Binary     float64            `json:"binary"`
	Multiclass map[string]float64 `json:"multiclass"`
}

// AnalysisBundle is the /analyze response: signals only, no decision.
type AnalysisBundle struct {
	FeatureAnalysis  FeatureAnalysis  `json:"feature_analysis"`
	ModelPredictions ModelPredictions `json:"model_predictions"`
}
