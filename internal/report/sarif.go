// internal/report/sarif.go
package report

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/types"
)

// ToolVersion is stamped into SARIF output; the CLI overrides it at startup.
var ToolVersion = "dev"

type sarif struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Results    []sarifResult  `json:"results"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID     string         `json:"ruleId"`
	RuleIndex  int            `json:"ruleIndex"`
	Level      string         `json:"level"`
	Message    sarifMessage   `json:"message"`
	Locations  []sarifLoc     `json:"locations,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLoc struct {
	PhysicalLocation *sarifPhys     `json:"physicalLocation,omitempty"`
	LogicalLocations []sarifLogical `json:"logicalLocations,omitempty"`
}

type sarifPhys struct {
	ArtifactLocation sarifArt `json:"artifactLocation"`
}

type sarifArt struct {
	URI string `json:"uri"`
}

type sarifLogical struct {
	Name string `json:"name"`
}

func sevToLevel(s types.Severity) string {
	if s == types.SevSuspicious {
		return "warning"
	}
	return "note"
}

// WriteSARIF writes findings as SARIF 2.1.0 to the provided writer.
func WriteSARIF(w io.Writer, findings []types.Finding) error {
	return WriteSARIFWithStats(w, findings, nil)
}

// WriteSARIFWithStats is WriteSARIF with run-level counters (records read,
// skip reasons, abort counts) attached under properties.artifactStats.
func WriteSARIFWithStats(w io.Writer, findings []types.Finding, stats map[string]int) error {
	run := sarifRun{
		Tool:    sarifTool{Driver: sarifDriver{Name: "osintkit", Version: ToolVersion}},
		Results: []sarifResult{},
	}
	index := map[string]int{}
	for _, r := range detectors.Rules() {
		index[r.ID] = len(run.Tool.Driver.Rules)
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{ID: r.ID, ShortDescription: sarifMessage{Text: r.Description}})
	}
	for _, f := range findings {
		i, ok := index[f.RuleID]
		if !ok {
			i = len(run.Tool.Driver.Rules)
			index[f.RuleID] = i
			run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{ID: f.RuleID, ShortDescription: sarifMessage{Text: f.RuleID}})
		}
		res := sarifResult{
			RuleID:    f.RuleID,
			RuleIndex: i,
			Level:     sevToLevel(f.Severity),
			Message:   sarifMessage{Text: f.RuleID + ": " + strings.Join(f.Subject, ", ")},
		}
		loc := sarifLoc{}
		if f.Artifact != "" {
			loc.PhysicalLocation = &sarifPhys{ArtifactLocation: sarifArt{URI: f.Artifact}}
		}
		for _, s := range f.Subject {
			loc.LogicalLocations = append(loc.LogicalLocations, sarifLogical{Name: s})
		}
		if loc.PhysicalLocation != nil || len(loc.LogicalLocations) > 0 {
			res.Locations = []sarifLoc{loc}
		}
		if len(f.Evidence) > 0 {
			res.Properties = map[string]any{"evidence": f.Evidence}
		}
		run.Results = append(run.Results, res)
	}
	if len(stats) > 0 {
		run.Properties = map[string]any{"artifactStats": stats}
	}
	doc := sarif{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteJSON writes findings as a JSON array; an empty run yields [].
func WriteJSON(w io.Writer, findings []types.Finding) error {
	if findings == nil {
		findings = []types.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}
