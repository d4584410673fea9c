package detectors

import (
	"fmt"
	"net/textproto"
	"strings"

	"github.com/varalys/osintkit/internal/types"
)

// Rule IDs.
const (
	FrequencyThresholdID = "frequency-threshold"
	DangerousExtensionID = "dangerous-extension"
	HeaderMismatchID     = "header-mismatch"
	MissingFieldID       = "missing-field"
	HighValueID          = "high-value"
)

// Config enumerates every tunable of the rule set.
type Config struct {
	// Threshold is exclusive: a key fires when its count is > Threshold.
	Threshold int
	// FrequencyField is actors, origins, targets or an attribute key.
	FrequencyField        string
	DangerousExtensions   []string
	DangerousContentTypes []string
	RequiredFields        []string
	HeaderPair            [2]string
	// ValueThreshold <= 0 disables the high-value rule.
	ValueThreshold float64
	Enable         []string
	Disable        []string
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Threshold:             100,
		FrequencyField:        types.FieldActors,
		DangerousExtensions:   []string{".exe", ".bat", ".sh", ".ps1", ".py", ".pl"},
		DangerousContentTypes: []string{"application/x-msdownload", "application/x-dosexec", "application/x-sh"},
		HeaderPair:            [2]string{"From", "Return-Path"},
	}
}

// Rule is a streaming detector: Observe is called once per record in
// sequence order, then Findings once.
type Rule interface {
	ID() string
	Observe(rec types.Record)
	Findings() []types.Finding
}

// Detector is the batch form of a rule.
type Detector func(records []types.Record, cfg Config) []types.Finding

// Info describes one rule for listings.
type Info struct {
	ID          string
	Severity    types.Severity
	Description string
}

var catalog = []struct {
	Info
	build func(Config) Rule
}{
	{Info{FrequencyThresholdID, types.SevSuspicious, "key seen more than threshold times"}, newFrequency},
	{Info{DangerousExtensionID, types.SevSuspicious, "file or attachment with a dangerous extension or content type"}, newDangerousExtension},
	{Info{HeaderMismatchID, types.SevSuspicious, "domains of two headers disagree (From vs Return-Path)"}, newHeaderMismatch},
	{Info{MissingFieldID, types.SevInfo, "record lacks a required field"}, newMissingField},
	{Info{HighValueID, types.SevSuspicious, "size or value above the value threshold"}, newHighValue},
}

// IDs lists the rule IDs in evaluation order.
func IDs() []string {
	out := make([]string, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c.ID)
	}
	return out
}

// Rules describes every rule in evaluation order.
func Rules() []Info {
	out := make([]Info, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c.Info)
	}
	return out
}

// Enabled reports whether the rule runs under cfg: listed in Enable (or
// Enable empty), not listed in Disable, and not switched off by its own
// settings.
func (c Config) Enabled(id string) bool {
	if len(c.Enable) > 0 && !contains(c.Enable, id) {
		return false
	}
	if contains(c.Disable, id) {
		return false
	}
	switch id {
	case MissingFieldID:
		return len(c.RequiredFields) > 0
	case HighValueID:
		return c.ValueThreshold > 0
	case DangerousExtensionID:
		return len(c.DangerousExtensions) > 0 || len(c.DangerousContentTypes) > 0
	}
	return true
}

// Validate rejects unknown rule IDs and negative thresholds.
func (c Config) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %d", c.Threshold)
	}
	for _, id := range append(append([]string{}, c.Enable...), c.Disable...) {
		if !contains(IDs(), id) {
			return fmt.Errorf("unknown rule %q", id)
		}
	}
	return nil
}

// Set runs the enabled rules side by side over one record stream.
type Set struct {
	rules []Rule
}

// NewSet builds the enabled rules for cfg.
func NewSet(cfg Config) *Set {
	s := &Set{}
	for _, c := range catalog {
		if cfg.Enabled(c.ID) {
			s.rules = append(s.rules, c.build(cfg))
		}
	}
	return s
}

// Observe feeds one record to every rule.
func (s *Set) Observe(rec types.Record) {
	for _, r := range s.rules {
		r.Observe(rec)
	}
}

// Findings concatenates rule outputs in rule order. Duplicates across rules
// are kept.
func (s *Set) Findings() []types.Finding {
	var out []types.Finding
	for _, r := range s.rules {
		out = append(out, r.Findings()...)
	}
	return out
}

// RunAll evaluates every enabled rule over records.
func RunAll(records []types.Record, cfg Config) []types.Finding {
	s := NewSet(cfg)
	for _, rec := range records {
		s.Observe(rec)
	}
	return s.Findings()
}

// Run evaluates a single rule regardless of Enable/Disable.
func Run(id string, records []types.Record, cfg Config) ([]types.Finding, error) {
	for _, c := range catalog {
		if c.ID != id {
			continue
		}
		r := c.build(cfg)
		for _, rec := range records {
			r.Observe(rec)
		}
		return r.Findings(), nil
	}
	return nil, fmt.Errorf("unknown rule %q", id)
}

// Batch returns the batch form of a rule.
func Batch(id string) (Detector, bool) {
	if !contains(IDs(), id) {
		return nil, false
	}
	return func(records []types.Record, cfg Config) []types.Finding {
		out, _ := Run(id, records, cfg)
		return out
	}, true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func canonicalHeader(k string) string {
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))
}
