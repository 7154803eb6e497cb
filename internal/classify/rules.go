package classify

import (
	"errors"
	"fmt"
	"math"

	"github.com/veil-waf/veil-netflow/internal/features"
)

// Flag names emitted by the rule engine.
const (
	FlagHighPacketCount      = "high_packet_count"
	FlagHighByteVolume       = "high_byte_volume"
	FlagLongDuration         = "long_duration"
	FlagSuspiciousServicePfx = "suspicious_service_"
)

// RuleConfig holds the heuristic thresholds. All comparisons are strict.
type RuleConfig struct {
	MinPackets         float64  `yaml:"min_packets" json:"min_packets"`
	MinBytes           float64  `yaml:"min_bytes" json:"min_bytes"`
	MaxDuration        float64  `yaml:"max_duration" json:"max_duration"`
	SuspiciousServices []string `yaml:"suspicious_services" json:"suspicious_services"`
}

// DefaultRuleConfig returns the stock thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		MinPackets:         1000,
		MinBytes:           1000000,
		MaxDuration:        60,
		SuspiciousServices: []string{"unknown", "snmp", "icmp"},
	}
}

// Validate rejects thresholds that would make a rule meaningless.
func (c RuleConfig) Validate() error {
	for _, x := range []float64{c.MinPackets, c.MinBytes, c.MaxDuration} {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			return errors.New("rule thresholds must be finite and not negative")
		}
	}
	for i, s := range c.SuspiciousServices {
		if s == "" {
			return fmt.Errorf("suspicious service %d is empty", i)
		}
	}
	return nil
}

// RuleEngine evaluates deterministic heuristics over a derived vector.
// It holds a private copy of its config and is safe for concurrent use.
type RuleEngine struct {
	cfg RuleConfig
}

// NewRuleEngine creates a rule engine over a copy of cfg.
func NewRuleEngine(cfg RuleConfig) *RuleEngine {
	services := make([]string, len(cfg.SuspiciousServices))
	copy(services, cfg.SuspiciousServices)
	cfg.SuspiciousServices = services
	return &RuleEngine{cfg: cfg}
}

// Config returns a copy of the engine's thresholds.
func (e *RuleEngine) Config() RuleConfig {
	cfg := e.cfg
	cfg.SuspiciousServices = append([]string(nil), e.cfg.SuspiciousServices...)
	return cfg
}

// Detect returns the triggered flags in evaluation order. Volume rules are
// independent; the service rule stops at the first configured service whose
// one-hot column is set. Signals absent from the schema are not evaluated.
func (e *RuleEngine) Detect(v *features.Vector) []string {
	flags := make([]string, 0, 4)

	if n, ok := v.Lookup("spkts"); ok && n > e.cfg.MinPackets {
		flags = append(flags, FlagHighPacketCount)
	}
	if n, ok := v.Lookup("sbytes"); ok && n > e.cfg.MinBytes {
		flags = append(flags, FlagHighByteVolume)
	}
	if n, ok := v.Lookup("dur"); ok && n > e.cfg.MaxDuration {
		flags = append(flags, FlagLongDuration)
	}

	for _, svc := range e.cfg.SuspiciousServices {
		if serviceSet(v, svc) {
			flags = append(flags, FlagSuspiciousServicePfx+svc)
			break
		}
	}
	return flags
}

// AnySuspiciousService reports whether any configured service indicator is
// set, regardless of list order.
func (e *RuleEngine) AnySuspiciousService(v *features.Vector) bool {
	for _, svc := range e.cfg.SuspiciousServices {
		if serviceSet(v, svc) {
			return true
		}
	}
	return false
}

func serviceSet(v *features.Vector, svc string) bool {
	x, ok := v.Lookup("service_" + svc)
	return ok && x == 1
}
