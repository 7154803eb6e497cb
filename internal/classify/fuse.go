package classify

import "math"

const (
	// DefaultAttackThreshold is a recall-leaning operating point.
	DefaultAttackThreshold = 0.6

	// RuleOverrideMinFlags is how many flags force a rule-based attack verdict.
	RuleOverrideMinFlags = 2

	// RuleOverrideConfidence is the floor reported by a rule override.
	RuleOverrideConfidence = 0.8
)

// Fuse combines the model's attack probability with the rule flags.
// The rule tier only escalates: two or more flags force attack with a
// confidence of at least 0.8. Otherwise the model decides, inclusive of the
// threshold, and its probability is reported unchanged.
func Fuse(pAttack float64, flags []string, threshold float64) Verdict {
	kept := append([]string{}, flags...)

	if len(flags) >= RuleOverrideMinFlags {
		return Verdict{
			Label:          LabelAttack,
			Confidence:     math.Max(pAttack, RuleOverrideConfidence),
			DecisionSource: RuleBased,
			Flags:          kept,
		}
	}

	label := LabelBenign
	if pAttack >= threshold {
		label = LabelAttack
	}
	return Verdict{
		Label:          label,
		Confidence:     pAttack,
		DecisionSource: ModelBased,
		Flags:          kept,
	}
}
