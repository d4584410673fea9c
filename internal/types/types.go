package types

import (
	"strconv"
	"strings"
	"time"
)

// SourceKind names the kind of unit a Record was extracted from.
type SourceKind string

const (
	KindFileEntry   SourceKind = "file_entry"
	KindLogLine     SourceKind = "log_line"
	KindPacket      SourceKind = "packet"
	KindMessage     SourceKind = "message"
	KindPost        SourceKind = "post"
	KindTransaction SourceKind = "transaction"
	KindRow         SourceKind = "row"
)

// Kinds lists every known source kind in declaration order.
func Kinds() []SourceKind {
	return []SourceKind{KindFileEntry, KindLogLine, KindPacket, KindMessage, KindPost, KindTransaction, KindRow}
}

// ParseKind returns the SourceKind named by s.
func ParseKind(s string) (SourceKind, bool) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Severity is the coarse level of a finding. Only two levels exist.
type Severity string

const (
	SevInfo       Severity = "info"
	SevSuspicious Severity = "suspicious"
)

// Record is one normalized unit extracted from an artifact: an archive entry,
// a log line, a packet, a message, a post, a transaction or a table row.
// Records are immutable once produced by the normalizer.
type Record struct {
	Kind         SourceKind     `json:"source_kind"`
	ID           string         `json:"identifier"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	RawTimestamp string         `json:"raw_timestamp,omitempty"`
	Actors       []string       `json:"actors"`
	Origins      []string       `json:"origins,omitempty"`
	Targets      []string       `json:"targets,omitempty"`
	Value        float64        `json:"size_or_value"`
	HasValue     bool           `json:"-"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Core field names accepted by Has and by the missing-field rule.
const (
	FieldIdentifier = "identifier"
	FieldTimestamp  = "timestamp"
	FieldActors     = "actors"
	FieldValue      = "size_or_value"
)

// Has reports whether the named field is present. Core fields use the names
// above; any other name is looked up in Attributes, where an empty string
// counts as absent.
func (r Record) Has(field string) bool {
	switch field {
	case FieldIdentifier:
		return r.ID != ""
	case FieldTimestamp:
		return r.Timestamp != nil || r.RawTimestamp != ""
	case FieldActors:
		return len(r.Actors) > 0
	case FieldValue:
		return r.HasValue
	}
	v, ok := r.Attributes[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// MissingFields lists the core fields that were defaulted during normalization.
func (r Record) MissingFields() []string {
	var out []string
	for _, f := range []string{FieldTimestamp, FieldActors, FieldValue} {
		if !r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Attr returns the attribute under key rendered as a string.
func (r Record) Attr(key string) (string, bool) {
	v, ok := r.Attributes[key]
	if !ok || v == nil {
		return "", false
	}
	return FormatScalar(v), true
}

// Weight is the record's magnitude for graph edges: Value, or 1 when absent.
func (r Record) Weight() float64 {
	if !r.HasValue {
		return 1
	}
	return r.Value
}

// TimeString renders the timestamp as RFC 3339, falling back to the raw text.
func (r Record) TimeString() string {
	if r.Timestamp != nil {
		return r.Timestamp.UTC().Format(time.RFC3339)
	}
	return r.RawTimestamp
}

// FormatScalar renders an attribute value for tabular output.
func FormatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ",")
	default:
		return ""
	}
}

// ActorSet accumulates participant identifiers in first-seen order without
// duplicates. The zero value is ready to use.
type ActorSet struct {
	seen  map[string]struct{}
	items []string
}

// Add appends ids that are non-empty and not yet present.
func (s *ActorSet) Add(ids ...string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.items = append(s.items, id)
	}
}

// Slice returns the members in insertion order; never nil.
func (s *ActorSet) Slice() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Finding is the output of a detector: a rule that flagged one or more
// records or actors, with free-form supporting evidence.
type Finding struct {
	RuleID   string         `json:"rule_id"`
	Subject  []string       `json:"subject"`
	Severity Severity       `json:"severity"`
	Evidence map[string]any `json:"evidence,omitempty"`
	Artifact string         `json:"artifact,omitempty"`
}
