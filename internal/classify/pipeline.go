package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/veil-waf/veil-netflow/internal/features"
	"github.com/veil-waf/veil-netflow/internal/metrics"
	"github.com/veil-waf/veil-netflow/internal/model"
)

// ErrModelUnavailable is returned when an operation needs a model that was
// not loaded.
var ErrModelUnavailable = errors.New("model not loaded")

// ValidThreshold reports whether t is a usable attack threshold in [0,1].
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}

// Options selects models and decision parameters for a Pipeline.
type Options struct {
	ModelName string
	Threshold float64
	Rules     RuleConfig
}

// Pipeline runs the decision flow for one record at a time:
// derive features → rules + classifiers → fuse / resolve.
// Everything it holds is read-only after construction, so one Pipeline
// serves concurrent requests without locking.
type Pipeline struct {
	modelName  string
	binary     model.Classifier
	multiclass model.Classifier
	catalog    LabelCatalog
	schema     *features.Schema
	rules      *RuleEngine
	threshold  float64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPipeline wires the named models from reg. The binary model is required
// and defines the feature schema; the multiclass model is optional but must
// share that schema when present.
func NewPipeline(reg *model.Registry, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if !ValidThreshold(opts.Threshold) {
		return nil, fmt.Errorf("attack threshold %v outside [0,1]", opts.Threshold)
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}

	binary, err := reg.Binary(opts.ModelName)
	if err != nil {
		return nil, err
	}
	schema, err := features.NewSchema(binary.FeatureNames())
	if err != nil {
		return nil, fmt.Errorf("binary %s schema: %w", opts.ModelName, err)
	}

	p := &Pipeline{
		modelName: opts.ModelName,
		binary:    binary,
		schema:    schema,
		rules:     NewRuleEngine(opts.Rules),
		threshold: opts.Threshold,
		metrics:   m,
		logger:    logger,
	}

	mc, err := reg.Multiclass(opts.ModelName)
	switch {
	case errors.Is(err, model.ErrUnknownModel):
		logger.Warn("no multiclass model loaded; attack-type endpoints disabled", "model", opts.ModelName)
	case err != nil:
		return nil, err
	case mc.Encoder == nil:
		return nil, fmt.Errorf("multiclass %s has no label encoder", opts.ModelName)
	default:
		if names := mc.Classifier.FeatureNames(); len(names) > 0 {
			mcSchema, err := features.NewSchema(names)
			if err != nil {
				return nil, fmt.Errorf("multiclass %s schema: %w", opts.ModelName, err)
			}
			if !mcSchema.Equal(schema) {
				return nil, fmt.Errorf("multiclass %s was trained on a different feature schema than the binary model", opts.ModelName)
			}
		}
		p.multiclass = mc.Classifier
		p.catalog = mc.Encoder
	}

	return p, nil
}

// ModelName is the name of the models in use.
func (p *Pipeline) ModelName() string { return p.modelName }

// Threshold is the attack-probability operating point.
func (p *Pipeline) Threshold() float64 { return p.threshold }

// Schema is the feature schema every record is aligned to.
func (p *Pipeline) Schema() *features.Schema { return p.schema }

// Rules returns the rule engine.
func (p *Pipeline) Rules() *RuleEngine { return p.rules }

// Classes returns the multiclass label catalog, or nil without one.
func (p *Pipeline) Classes() []string {
	if p.catalog == nil {
		return nil
	}
	return p.catalog.Classes()
}

// Derive aligns rec to the pipeline schema.
func (p *Pipeline) Derive(rec features.Record) (*features.Vector, error) {
	v, err := features.Derive(rec, p.schema)
	if err != nil {
		if features.IsSchemaError(err) {
			p.metrics.IncSchemaErrors()
		}
		return nil, err
	}
	return v, nil
}

// PredictBinary produces the fused benign/attack verdict for rec.
func (p *Pipeline) PredictBinary(ctx context.Context, rec features.Record) (*BinaryResult, error) {
	start := time.Now()
	defer p.metrics.ObserveLatency("binary", start)

	v, err := p.Derive(rec)
	if err != nil {
		return nil, err
	}
	pAttack, err := p.attackProbability(ctx, v)
	if err != nil {
		return nil, err
	}

	verdict := Fuse(pAttack, p.rules.Detect(v), p.threshold)
	p.metrics.ObserveVerdict(verdict.Label, string(verdict.DecisionSource), verdict.Flags)
	p.logger.Debug("binary verdict",
		"label", verdict.Label,
		"confidence", verdict.Confidence,
		"source", verdict.DecisionSource,
		"flags", verdict.Flags,
	)

	res := &BinaryResult{
		Probability:      verdict.Confidence,
		ThresholdUsed:    p.threshold,
		Interpretation:   "Normal",
		Flags:            verdict.Flags,
		DecisionSource:   verdict.DecisionSource,
		ModelUsed:        p.modelName,
		ModelProbability: pAttack,
	}
	if verdict.IsAttack() {
		res.Prediction = 1
		res.Interpretation = "Attack"
	}
	return res, nil
}

// PredictMulticlass resolves rec to a named attack category.
func (p *Pipeline) PredictMulticlass(ctx context.Context, rec features.Record) (*AttackTypeVerdict, error) {
	start := time.Now()
	defer p.metrics.ObserveLatency("multiclass", start)

	if p.multiclass == nil {
		return nil, ErrModelUnavailable
	}
	v, err := p.Derive(rec)
	if err != nil {
		return nil, err
	}
	proba, err := p.predict(ctx, p.multiclass, v)
	if err != nil {
		return nil, err
	}

	atv, err := Resolve(proba, p.catalog)
	if err != nil {
		p.metrics.IncClassifierErrors(p.multiclass.Name())
		return nil, err
	}
	if atv.Clamped {
		p.logger.Warn("multiclass index beyond label catalog; clamped to last class",
			"model", p.modelName,
			"distribution_len", len(proba),
			"catalog_len", len(p.catalog.Classes()),
			"label", atv.Label,
		)
	}
	p.metrics.ObserveAttackType(atv.Label, atv.Clamped)
	return atv, nil
}

// Analyze returns the diagnostic bundle for rec: derived ratios and both
// classifiers' raw outputs.
func (p *Pipeline) Analyze(ctx context.Context, rec features.Record) (*AnalysisBundle, error) {
	start := time.Now()
	defer p.metrics.ObserveLatency("analyze", start)

	if p.multiclass == nil {
		return nil, ErrModelUnavailable
	}
	v, err := p.Derive(rec)
	if err != nil {
		return nil, err
	}
	pAttack, err := p.attackProbability(ctx, v)
	if err != nil {
		return nil, err
	}
	proba, err := p.predict(ctx, p.multiclass, v)
	if err != nil {
		return nil, err
	}
	return Aggregate(v, pAttack, proba, p.catalog, p.rules), nil
}

// attackProbability returns P(attack), the second slot of the binary output.
func (p *Pipeline) attackProbability(ctx context.Context, v *features.Vector) (float64, error) {
	proba, err := p.predict(ctx, p.binary, v)
	if err != nil {
		return 0, err
	}
	if len(proba) < 2 {
		p.metrics.IncClassifierErrors(p.binary.Name())
		return 0, fmt.Errorf("binary %s returned %d probabilities, want 2", p.binary.Name(), len(proba))
	}
	return proba[1], nil
}

// predict calls the classifier and checks its side of the contract.
func (p *Pipeline) predict(ctx context.Context, c model.Classifier, v *features.Vector) ([]float64, error) {
	proba, err := c.PredictProba(ctx, v)
	if err != nil {
		p.metrics.IncClassifierErrors(c.Name())
		return nil, fmt.Errorf("predict %s: %w", c.Name(), err)
	}
	if len(proba) == 0 {
		p.metrics.IncClassifierErrors(c.Name())
		return nil, fmt.Errorf("predict %s: %w", c.Name(), ErrEmptyDistribution)
	}
	for i, x := range proba {
		if math.IsNaN(x) || x < 0 || x > 1 {
			p.metrics.IncClassifierErrors(c.Name())
			return nil, fmt.Errorf("predict %s: probability %d is %v", c.Name(), i, x)
		}
	}
	return proba, nil
}
