package core

import (
	"context"
	"io"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/engine"
	"github.com/varalys/osintkit/internal/export"
	"github.com/varalys/osintkit/internal/types"
)

// Re-export selected internal types as a stable public API surface.
// These are type aliases so external consumers can depend on a stable path.
type Config = engine.Config
type Result = engine.Result
type Outcome = engine.Outcome
type DetectorConfig = detectors.Config
type ReaderOptions = artifacts.Options
type Limits = artifacts.Limits
type Record = types.Record
type Finding = types.Finding
type Graph = export.Graph

// Run ingests one artifact and returns its records and findings.
func Run(ctx context.Context, cfg Config) (Result, error) {
	return engine.Run(ctx, cfg)
}

// RunMany processes paths concurrently; one failing artifact does not stop
// the rest.
func RunMany(ctx context.Context, paths []string, cfg Config) []Outcome {
	return engine.RunMany(ctx, paths, cfg)
}

// DefaultDetectors returns the built-in rule settings.
func DefaultDetectors() DetectorConfig { return detectors.DefaultConfig() }

// RuleIDs returns the list of detector rule IDs.
func RuleIDs() []string { return detectors.IDs() }

// Formats returns the registered artifact format tags.
func Formats() []string {
	var out []string
	for _, f := range artifacts.Formats() {
		out = append(out, string(f))
	}
	return out
}

// WriteCSV writes records as a flat table with the core columns first.
func WriteCSV(w io.Writer, records []Record) error {
	return export.WriteCSV(w, records, 0)
}

// BuildGraph derives the undirected actor co-occurrence graph.
func BuildGraph(records []Record) Graph { return export.BuildGraph(records) }
