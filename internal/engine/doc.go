// Package engine runs the ingestion pipeline: it opens an artifact, normalizes
// every entry, filters and de-duplicates records, and feeds them to the
// detectors in one pass. External consumers should use the facade in pkg/core.
package engine
