// Package core provides a small, stable facade over osintkit's internal
// engine for external integrations. It re-exports a narrow API surface so
// other tools can depend on a stable import path without importing the
// internal packages.
//
// Example:
//
//	cfg := core.Config{Path: "capture.pcap", Detectors: core.DefaultDetectors()}
//	res, err := core.Run(ctx, cfg)
//	if err != nil { /* handle */ }
//	_ = core.MarshalFindings(os.Stdout, res.Findings)
package core
