// Package config reads service settings from the environment, optionally
// overlaid with a YAML rules file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veil-waf/veil-netflow/internal/classify"
)

// Config is built once at startup and never mutated.
type Config struct {
	Port     string
	LogLevel string

	ModelsDir      string
	ModelName      string
	ModelServerURL string

	Threshold float64
	Rules     classify.RuleConfig
	RulesFile string

	DatabaseURL string
	NATSURL     string
	NATSSubject string

	TLSDomain  string
	ACMEEmail  string
	Production bool

	// Explanations need AWS credentials in the environment.
	ExplainEnabled bool
	AWSRegion      string
	BedrockModel   string
}

// rulesFile is the YAML overlay. Absent keys keep the environment values.
type rulesFile struct {
	Threshold *float64 `yaml:"attack_threshold"`
	Rules     *struct {
		MinPackets         *float64 `yaml:"min_packets"`
		MinBytes           *float64 `yaml:"min_bytes"`
		MaxDuration        *float64 `yaml:"max_duration"`
		SuspiciousServices []string `yaml:"suspicious_services"`
	} `yaml:"rules"`
}

// Load reads the environment through getenv (os.Getenv when nil), applies
// RULES_FILE if set and validates the result.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	def := classify.DefaultRuleConfig()
	cfg := &Config{
		Port:           env("PORT", "5000"),
		LogLevel:       env("LOG_LEVEL", "info"),
		ModelsDir:      env("MODELS_DIR", "models"),
		ModelName:      env("MODEL_NAME", "balanced_random_forest"),
		ModelServerURL: env("MODEL_SERVER_URL", ""),
		RulesFile:      env("RULES_FILE", ""),
		DatabaseURL:    env("DATABASE_URL", ""),
		NATSURL:        env("NATS_URL", ""),
		NATSSubject:    env("NATS_SUBJECT", "verdicts.flow"),
		TLSDomain:      env("TLS_DOMAIN", ""),
		ACMEEmail:      env("ACME_EMAIL", ""),
		Production:     env("VEIL_ENV", "") == "production",
		ExplainEnabled: env("AWS_ACCESS_KEY_ID", "") != "" || env("AWS_PROFILE", "") != "",
		AWSRegion:      env("AWS_REGION", "eu-west-1"),
		BedrockModel:   env("BEDROCK_MODEL", "global.anthropic.claude-sonnet-4-5-20250929-v1:0"),
		Rules: classify.RuleConfig{
			SuspiciousServices: def.SuspiciousServices,
		},
	}

	var err error
	if cfg.Threshold, err = envFloat(env, "ATTACK_THRESHOLD", classify.DefaultAttackThreshold); err != nil {
		return nil, err
	}
	if cfg.Rules.MinPackets, err = envFloat(env, "RULE_MIN_PACKETS", def.MinPackets); err != nil {
		return nil, err
	}
	if cfg.Rules.MinBytes, err = envFloat(env, "RULE_MIN_BYTES", def.MinBytes); err != nil {
		return nil, err
	}
	if cfg.Rules.MaxDuration, err = envFloat(env, "RULE_MAX_DURATION", def.MaxDuration); err != nil {
		return nil, err
	}
	if s := env("RULE_SUSPICIOUS_SERVICES", ""); s != "" {
		cfg.Rules.SuspiciousServices = splitList(s)
	}

	if cfg.RulesFile != "" {
		if err := cfg.applyRulesFile(cfg.RulesFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that the pipeline relies on.
func (c *Config) Validate() error {
	if !classify.ValidThreshold(c.Threshold) {
		return fmt.Errorf("ATTACK_THRESHOLD %v outside [0,1]", c.Threshold)
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT %q: %w", c.Port, err)
	}
	if c.ModelName == "" {
		return fmt.Errorf("MODEL_NAME is empty")
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}

func (c *Config) applyRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if f.Threshold != nil {
		c.Threshold = *f.Threshold
	}
	if r := f.Rules; r != nil {
		if r.MinPackets != nil {
			c.Rules.MinPackets = *r.MinPackets
		}
		if r.MinBytes != nil {
			c.Rules.MinBytes = *r.MinBytes
		}
		if r.MaxDuration != nil {
			c.Rules.MaxDuration = *r.MaxDuration
		}
		if r.SuspiciousServices != nil {
			c.Rules.SuspiciousServices = r.SuspiciousServices
		}
	}
	return nil
}

func envFloat(env func(key, def string) string, key string, def float64) (float64, error) {
	s := env(key, "")
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
