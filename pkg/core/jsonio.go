package core

import (
	"encoding/json"
	"io"

	"github.com/varalys/osintkit/internal/export"
	"github.com/varalys/osintkit/internal/report"
)

// MarshalFindings writes findings as an indented JSON array; nil encodes as [].
func MarshalFindings(w io.Writer, findings []Finding) error {
	return report.WriteJSON(w, findings)
}

// UnmarshalFindings decodes a findings array written by MarshalFindings or
// the CLI's --json output.
func UnmarshalFindings(r io.Reader) ([]Finding, error) {
	var fs []Finding
	if err := json.NewDecoder(r).Decode(&fs); err != nil {
		return nil, err
	}
	return fs, nil
}

// MarshalRecords writes normalized records as JSON objects with the core
// fields typed and attributes flattened alongside them.
func MarshalRecords(w io.Writer, records []Record) error {
	return export.WriteJSON(w, records)
}
