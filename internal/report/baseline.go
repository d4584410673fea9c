package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/varalys/osintkit/internal/types"
)

// DefaultBaselineFile is looked up in the working directory.
const DefaultBaselineFile = "osintkit.baseline.json"

type Baseline struct {
	Items map[string]bool `json:"items"`
}

func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{Items: map[string]bool{}}
	f, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(f, &b); err != nil {
		return Baseline{Items: map[string]bool{}}, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	if b.Items == nil {
		b.Items = map[string]bool{}
	}
	return b, nil
}

func SaveBaseline(path string, findings []types.Finding) error {
	b := Baseline{Items: map[string]bool{}}
	for _, f := range findings {
		b.Items[Key(f)] = true
	}
	buf, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

func FilterNewFindings(findings []types.Finding, base Baseline) []types.Finding {
	var out []types.Finding
	for _, f := range findings {
		if !base.Items[Key(f)] {
			out = append(out, f)
		}
	}
	return out
}

// Key identifies a finding across runs: artifact, rule and subject.
func Key(f types.Finding) string {
	return f.Artifact + "|" + f.RuleID + "|" + strings.Join(f.Subject, ",")
}

// ShouldFail reports whether any finding reaches the failOn level: info,
// suspicious (the default) or never.
func ShouldFail(findings []types.Finding, failOn string) bool {
	level := map[string]int{"info": 1, "suspicious": 2}
	if failOn == "never" {
		return false
	}
	th := level[failOn]
	if th == 0 {
		th = 2
	}
	for _, f := range findings {
		if level[string(f.Severity)] >= th {
			return true
		}
	}
	return false
}
