package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// ErrExplainerDisabled is returned when no Bedrock credentials are configured.
var ErrExplainerDisabled = errors.New("explainer not configured")

const explainSystemPrompt = `You are a network security analyst. You receive one network flow's derived features, the raw outputs of a binary and a multiclass classifier, and the final verdict produced by a hybrid rule/model engine. Explain in at most four sentences why the verdict was reached, which signals mattered most, and whether the rule engine or the model decided. Do not change the verdict.`

// Explanation is a natural-language account of one verdict.
type Explanation struct {
	Verdict  *BinaryResult   `json:"verdict"`
	Analysis *AnalysisBundle `json:"analysis"`
	Summary  string          `json:"summary"`
	Model    string          `json:"model"`
	// ElapsedMs covers only the LLM call.
	ElapsedMs float64 `json:"elapsed_ms"`
}

// ExplainerConfig selects the Bedrock model used for explanations.
type ExplainerConfig struct {
	Enabled bool
	Region  string
	Model   string
}

// Explainer narrates verdicts with Claude on AWS Bedrock. It never alters
// a verdict; it only describes one the pipeline already produced.
type Explainer struct {
	client  *anthropic.Client
	model   string
	enabled bool
}

// NewExplainer builds the Bedrock client once. A disabled config yields an
// Explainer whose Explain always returns ErrExplainerDisabled.
func NewExplainer(ctx context.Context, cfg ExplainerConfig) *Explainer {
	if !cfg.Enabled {
		return &Explainer{}
	}
	client := anthropic.NewClient(
		bedrock.WithLoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region)),
	)
	return &Explainer{client: &client, model: cfg.Model, enabled: true}
}

// Enabled reports whether explanations can be produced.
func (e *Explainer) Enabled() bool { return e != nil && e.enabled }

// Explain asks the model to describe verdict in terms of analysis.
func (e *Explainer) Explain(ctx context.Context, verdict *BinaryResult, analysis *AnalysisBundle) (*Explanation, error) {
	if !e.Enabled() {
		return nil, ErrExplainerDisabled
	}

	payload, err := json.Marshal(map[string]any{
		"verdict":           verdict,
		"model_probability": verdict.ModelProbability,
		"analysis":          analysis,
	})
	if err != nil {
		return nil, fmt.Errorf("encode explain payload: %w", err)
	}

	start := time.Now()
	message, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: explainSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
	})
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}
	if len(message.Content) == 0 {
		return nil, errors.New("claude: empty response")
	}

	return &Explanation{
		Verdict:   verdict,
		Analysis:  analysis,
		Summary:   strings.TrimSpace(message.Content[0].Text),
		Model:     e.model,
		ElapsedMs: elapsed,
	}, nil
}
