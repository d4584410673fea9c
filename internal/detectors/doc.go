// Package detectors implements the heuristic rules run over normalized records.
// Each rule makes a single forward pass, keeps at most one counter table, and
// never mutates a record. Rule outputs are concatenated, not merged.
package detectors
