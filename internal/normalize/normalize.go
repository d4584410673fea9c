// Package normalize maps raw artifact entries onto the common Record model.
//
// Normalization is pure: the same entry always yields the same Record. Absent
// raw fields map to Record defaults. The only failure is a log line that does
// not match the access-log grammar, or an entry handed over under the wrong
// source kind; both are reported as ErrMalformedRecord so callers can count
// and skip them.
package normalize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/types"
)

// ErrMalformedRecord marks an entry that produced no Record.
var ErrMalformedRecord = errors.New("malformed record")

// Skip reasons carried by SkipError.
const (
	ReasonGrammar      = "grammar"
	ReasonTooLong      = "too-long"
	ReasonKindMismatch = "kind-mismatch"
	ReasonUnknownEntry = "unknown-entry"
)

// SkipError describes why an entry was dropped. It matches ErrMalformedRecord
// under errors.Is.
type SkipError struct {
	Reason string
	Entry  string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrMalformedRecord, e.Reason, e.Entry)
}

func (e *SkipError) Unwrap() error { return ErrMalformedRecord }

// Reason returns the skip reason carried by err, or "other".
func Reason(err error) string {
	var se *SkipError
	if errors.As(err, &se) {
		return se.Reason
	}
	return "other"
}

// Options tunes document normalization. Fields overrides the default field
// map of a document kind; empty slices keep the default.
type Options struct {
	Fields map[types.SourceKind]FieldMap
}

// Normalizer converts entries to Records. It holds no per-artifact state and
// may be shared.
type Normalizer struct {
	fields map[types.SourceKind]FieldMap
	words  *headerDecoder
}

// New returns a Normalizer with the default field maps merged with opts.
func New(opts Options) *Normalizer {
	n := &Normalizer{fields: make(map[types.SourceKind]FieldMap), words: newHeaderDecoder()}
	for _, k := range []types.SourceKind{types.KindPost, types.KindTransaction, types.KindRow} {
		n.fields[k] = DefaultFieldMap(k).merge(opts.Fields[k])
	}
	return n
}

var std = New(Options{})

// Normalize converts e with the default field maps.
func Normalize(kind types.SourceKind, e artifacts.Entry) (types.Record, error) {
	return std.Normalize(kind, e)
}

// Normalize converts one entry. kind may be empty to take the entry's natural
// kind; documents default to row.
func (n *Normalizer) Normalize(kind types.SourceKind, e artifacts.Entry) (types.Record, error) {
	switch v := e.(type) {
	case *artifacts.FileEntry:
		if err := expect(kind, types.KindFileEntry, v.Path); err != nil {
			return types.Record{}, err
		}
		return fileEntry(v), nil
	case *artifacts.LogLine:
		if err := expect(kind, types.KindLogLine, fmt.Sprintf("line:%d", v.Number)); err != nil {
			return types.Record{}, err
		}
		return logLine(v)
	case *artifacts.Packet:
		if err := expect(kind, types.KindPacket, fmt.Sprintf("packet:%d", v.Index)); err != nil {
			return types.Record{}, err
		}
		return packet(v), nil
	case *artifacts.Message:
		if err := expect(kind, types.KindMessage, fmt.Sprintf("message:%d", v.Index)); err != nil {
			return types.Record{}, err
		}
		return n.message(v), nil
	case *artifacts.Document:
		switch kind {
		case "":
			kind = types.KindRow
		case types.KindPost, types.KindTransaction, types.KindRow:
		default:
			return types.Record{}, &SkipError{Reason: ReasonKindMismatch, Entry: documentID(v)}
		}
		return n.document(kind, v), nil
	}
	return types.Record{}, &SkipError{Reason: ReasonUnknownEntry, Entry: fmt.Sprintf("%T", e)}
}

func expect(got, want types.SourceKind, id string) error {
	if got == "" || got == want {
		return nil
	}
	return &SkipError{Reason: ReasonKindMismatch, Entry: id}
}

func fileEntry(e *artifacts.FileEntry) types.Record {
	rec := types.Record{
		Kind:       types.KindFileEntry,
		ID:         e.Path,
		Actors:     []string{},
		Value:      float64(e.Size),
		HasValue:   true,
		Attributes: map[string]any{},
	}
	if !e.ModTime.IsZero() {
		ts := e.ModTime.UTC()
		rec.Timestamp = &ts
	}
	if ext := Extension(e.Path); ext != "" && e.Type != "dir" {
		rec.Attributes["extension"] = ext
	}
	if e.Type != "" {
		rec.Attributes["type"] = e.Type
	}
	if e.Hash != "" {
		rec.Attributes["xxhash"] = e.Hash
	}
	if e.Depth > 0 {
		rec.Attributes["depth"] = int64(e.Depth)
	}
	if e.Truncated {
		rec.Attributes["truncated"] = true
	}
	return rec
}

// Extension returns the lower-cased suffix of the last path element,
// including the dot. Nested archive paths use their innermost member.
func Extension(p string) string {
	if i := strings.LastIndex(p, "::"); i >= 0 {
		p = p[i+2:]
	}
	return strings.ToLower(filepath.Ext(p))
}

func packet(p *artifacts.Packet) types.Record {
	var set types.ActorSet
	set.Add(p.Src, p.Dst)
	rec := types.Record{
		Kind:       types.KindPacket,
		ID:         fmt.Sprintf("packet:%d", p.Index),
		Actors:     set.Slice(),
		Value:      float64(p.Length),
		HasValue:   true,
		Attributes: map[string]any{},
	}
	if p.Src != "" && p.Dst != "" {
		rec.Origins = []string{p.Src}
		rec.Targets = []string{p.Dst}
	}
	if !p.Timestamp.IsZero() {
		ts := p.Timestamp.UTC()
		rec.Timestamp = &ts
	}
	setString(rec.Attributes, "protocol", p.Protocol)
	setString(rec.Attributes, "network", p.Network)
	setString(rec.Attributes, "src_port", p.SrcPort)
	setString(rec.Attributes, "dst_port", p.DstPort)
	return rec
}

func setString(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}
