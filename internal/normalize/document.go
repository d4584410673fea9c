package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/types"
)

// FieldMap names the raw fields a document kind reads its core columns from.
// For ID, Timestamp and Value the first present key wins; participant keys
// are all read and unioned.
type FieldMap struct {
	ID        []string `yaml:"id" toml:"id"`
	Timestamp []string `yaml:"timestamp" toml:"timestamp"`
	Value     []string `yaml:"value" toml:"value"`
	Origins   []string `yaml:"origins" toml:"origins"`
	Targets   []string `yaml:"targets" toml:"targets"`
	Actors    []string `yaml:"actors" toml:"actors"`
}

// DefaultFieldMap returns the field names used by common social-media and
// blockchain dumps.
func DefaultFieldMap(kind types.SourceKind) FieldMap {
	switch kind {
	case types.KindPost:
		return FieldMap{
			ID:        []string{"id", "post_id"},
			Timestamp: []string{"timestamp", "created_at", "date"},
			Origins:   []string{"author", "user", "username"},
			Targets:   []string{"mentions"},
		}
	case types.KindTransaction:
		return FieldMap{
			ID:        []string{"txid", "id", "hash"},
			Timestamp: []string{"timestamp", "time", "date"},
			Value:     []string{"value", "amount"},
			Origins:   []string{"inputs", "from"},
			Targets:   []string{"outputs", "to"},
		}
	default:
		return FieldMap{
			ID:        []string{"id"},
			Timestamp: []string{"timestamp", "date", "time", "created_at"},
		}
	}
}

func (f FieldMap) merge(o FieldMap) FieldMap {
	pick := func(a, b []string) []string {
		if len(b) > 0 {
			return b
		}
		return a
	}
	return FieldMap{
		ID:        pick(f.ID, o.ID),
		Timestamp: pick(f.Timestamp, o.Timestamp),
		Value:     pick(f.Value, o.Value),
		Origins:   pick(f.Origins, o.Origins),
		Targets:   pick(f.Targets, o.Targets),
		Actors:    pick(f.Actors, o.Actors),
	}
}

// timeLayouts are tried in order for string timestamps in documents.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	LogLayout,
}

func (n *Normalizer) document(kind types.SourceKind, d *artifacts.Document) types.Record {
	fm := n.fields[kind]
	rec := types.Record{Kind: kind, Attributes: map[string]any{}}
	used := map[string]bool{}

	if k, v, ok := firstPresent(d.Fields, fm.ID); ok {
		used[k] = true
		rec.ID = scalarString(v)
	}
	if rec.ID == "" {
		rec.ID = documentID(d)
	}
	if k, v, ok := firstPresent(d.Fields, fm.Timestamp); ok {
		used[k] = true
		if ts, ok := parseTime(v); ok {
			rec.Timestamp = &ts
		} else {
			rec.RawTimestamp = scalarString(v)
		}
	}
	if k, v, ok := firstPresent(d.Fields, fm.Value); ok {
		if f, ok := number(v); ok {
			used[k] = true
			rec.Value = f
			rec.HasValue = true
		}
	}

	collect := func(keys []string) []string {
		var out []string
		for _, k := range keys {
			v, ok := d.Fields[k]
			if !ok {
				continue
			}
			used[k] = true
			out = append(out, participants(v)...)
		}
		return out
	}
	origins := collect(fm.Origins)
	targets := collect(fm.Targets)
	extra := collect(fm.Actors)
	var set types.ActorSet
	set.Add(origins...)
	set.Add(targets...)
	set.Add(extra...)
	rec.Actors = set.Slice()
	if len(origins) > 0 && len(targets) > 0 {
		rec.Origins = dedupe(origins)
		rec.Targets = dedupe(targets)
	}

	for k, v := range d.Fields {
		if used[k] {
			continue
		}
		if a := attribute(v); a != nil {
			rec.Attributes[k] = a
		}
	}
	return rec
}

func documentID(d *artifacts.Document) string {
	return fmt.Sprintf("%s#%d", d.Source, d.Index)
}

func firstPresent(fields map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil && v != "" {
			return k, v, true
		}
	}
	return "", nil, false
}

func scalarString(v any) string {
	if s := types.FormatScalar(v); s != "" {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0).UTC(), true
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 9 {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// participants flattens a participant field: a string, a list of strings, or
// objects carrying an address/id/name.
func participants(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		if strings.Contains(t, ";") {
			return splitList(t, ";")
		}
		return []string{strings.TrimSpace(t)}
	case []any:
		var out []string
		for _, x := range t {
			out = append(out, participants(x)...)
		}
		return out
	case map[string]any:
		for _, k := range []string{"address", "addr", "id", "name", "handle"} {
			if s, ok := t[k].(string); ok && s != "" {
				return []string{s}
			}
		}
		return nil
	case nil:
		return nil
	}
	return []string{scalarString(v)}
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	var set types.ActorSet
	set.Add(in...)
	return set.Slice()
}

// attribute converts a raw field to an attribute value: scalars stay, lists
// of scalars become []string, anything nested is JSON-encoded.
func attribute(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			switch x.(type) {
			case string, int64, float64, bool:
				out = append(out, types.FormatScalar(x))
			default:
				return encodeJSON(v)
			}
		}
		return out
	}
	return encodeJSON(v)
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
