package classify

import "github.com/veil-waf/veil-netflow/internal/features"

// Aggregate assembles the diagnostic bundle for one derived row and both
// classifiers' raw outputs. It makes no decision and cannot fail.
func Aggregate(v *features.Vector, pAttack float64, multiProba []float64, catalog LabelCatalog, rules *RuleEngine) *AnalysisBundle {
	return &AnalysisBundle{
		FeatureAnalysis: FeatureAnalysis{
			PacketImbalance:     features.Ratio(v.Value("spkts"), v.Value("dpkts")),
			ByteImbalance:       features.Ratio(v.Value("sbytes"), v.Value("dbytes")),
			Duration:            v.Value("dur"),
			IsSuspiciousService: rules.AnySuspiciousService(v),
		},
		ModelPredictions: ModelPredictions{
			Binary:     pAttack,
			Multiclass: probabilityMap(multiProba, catalog.Classes()),
		},
	}
}
