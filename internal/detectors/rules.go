package detectors

import (
	"strings"

	"github.com/varalys/osintkit/internal/types"
)

type frequency struct {
	field     string
	threshold int
	counts    map[string]int
	order     []string
}

func newFrequency(cfg Config) Rule {
	field := cfg.FrequencyField
	if field == "" {
		field = types.FieldActors
	}
	return &frequency{field: field, threshold: cfg.Threshold, counts: map[string]int{}}
}

func (r *frequency) ID() string { return FrequencyThresholdID }

func (r *frequency) Observe(rec types.Record) {
	for _, k := range keysOf(rec, r.field) {
		if _, ok := r.counts[k]; !ok {
			r.order = append(r.order, k)
		}
		r.counts[k]++
	}
}

// Findings reports keys in first-seen order.
func (r *frequency) Findings() []types.Finding {
	var out []types.Finding
	for _, k := range r.order {
		n := r.counts[k]
		if n <= r.threshold {
			continue
		}
		out = append(out, types.Finding{
			RuleID:   FrequencyThresholdID,
			Subject:  []string{k},
			Severity: types.SevSuspicious,
			Evidence: map[string]any{"field": r.field, "count": n, "threshold": r.threshold},
		})
	}
	return out
}

// keysOf returns the values a record contributes to a frequency count. Each
// distinct value counts once per record.
func keysOf(rec types.Record, field string) []string {
	switch field {
	case types.FieldActors:
		return rec.Actors
	case "origins":
		return rec.Origins
	case "targets":
		return rec.Targets
	case types.FieldIdentifier:
		return []string{rec.ID}
	}
	switch v := rec.Attributes[field].(type) {
	case nil:
		return nil
	case []string:
		var set types.ActorSet
		set.Add(v...)
		return set.Slice()
	default:
		if s := types.FormatScalar(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

type dangerousExtension struct {
	exts  map[string]bool
	ctype map[string]bool
	out   []types.Finding
}

func newDangerousExtension(cfg Config) Rule {
	r := &dangerousExtension{exts: map[string]bool{}, ctype: map[string]bool{}}
	for _, e := range cfg.DangerousExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		r.exts[e] = true
	}
	for _, c := range cfg.DangerousContentTypes {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			r.ctype[c] = true
		}
	}
	return r
}

func (r *dangerousExtension) ID() string { return DangerousExtensionID }

func (r *dangerousExtension) Observe(rec types.Record) {
	var matched []string
	if ext, ok := rec.Attributes["extension"].(string); ok && r.exts[ext] {
		matched = append(matched, ext)
	}
	if exts, ok := rec.Attributes["attachment_extensions"].([]string); ok {
		for _, e := range exts {
			if r.exts[e] {
				matched = append(matched, e)
			}
		}
	}
	for _, key := range []string{"content_type", "attachment_content_types"} {
		switch v := rec.Attributes[key].(type) {
		case string:
			if r.ctype[strings.ToLower(v)] {
				matched = append(matched, v)
			}
		case []string:
			for _, c := range v {
				if r.ctype[strings.ToLower(c)] {
					matched = append(matched, c)
				}
			}
		}
	}
	if len(matched) == 0 {
		return
	}
	r.out = append(r.out, types.Finding{
		RuleID:   DangerousExtensionID,
		Subject:  []string{rec.ID},
		Severity: types.SevSuspicious,
		Evidence: map[string]any{"matched": matched},
	})
}

func (r *dangerousExtension) Findings() []types.Finding { return r.out }

type headerMismatch struct {
	a, b string
	out  []types.Finding
}

func newHeaderMismatch(cfg Config) Rule {
	a, b := cfg.HeaderPair[0], cfg.HeaderPair[1]
	if a == "" && b == "" {
		a, b = "From", "Return-Path"
	}
	return &headerMismatch{a: canonicalHeader(a), b: canonicalHeader(b)}
}

func (r *headerMismatch) ID() string { return HeaderMismatchID }

// Observe flags a record whose first header's domain does not end with the
// second header's domain. Records missing either header are skipped.
func (r *headerMismatch) Observe(rec types.Record) {
	va, okA := rec.Attr(r.a)
	vb, okB := rec.Attr(r.b)
	if !okA || !okB {
		return
	}
	da, db := Domain(va), Domain(vb)
	if da == "" || db == "" || strings.HasSuffix(da, db) {
		return
	}
	r.out = append(r.out, types.Finding{
		RuleID:   HeaderMismatchID,
		Subject:  []string{rec.ID},
		Severity: types.SevSuspicious,
		Evidence: map[string]any{r.a: da, r.b: db},
	})
}

func (r *headerMismatch) Findings() []types.Finding { return r.out }

// Domain returns the lower-cased text after the last '@' of a header value,
// without angle brackets. Values without '@' yield "".
func Domain(v string) string {
	i := strings.LastIndex(v, "@")
	if i < 0 {
		return ""
	}
	d := v[i+1:]
	if j := strings.IndexAny(d, ">,; \t"); j >= 0 {
		d = d[:j]
	}
	return strings.ToLower(strings.TrimSpace(d))
}

type missingField struct {
	fields []string
	out    []types.Finding
}

func newMissingField(cfg Config) Rule {
	return &missingField{fields: cfg.RequiredFields}
}

func (r *missingField) ID() string { return MissingFieldID }

func (r *missingField) Observe(rec types.Record) {
	var missing []string
	for _, f := range r.fields {
		if !rec.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return
	}
	r.out = append(r.out, types.Finding{
		RuleID:   MissingFieldID,
		Subject:  []string{rec.ID},
		Severity: types.SevInfo,
		Evidence: map[string]any{"missing": missing},
	})
}

func (r *missingField) Findings() []types.Finding { return r.out }

type highValue struct {
	threshold float64
	out       []types.Finding
}

func newHighValue(cfg Config) Rule {
	return &highValue{threshold: cfg.ValueThreshold}
}

func (r *highValue) ID() string { return HighValueID }

func (r *highValue) Observe(rec types.Record) {
	if r.threshold <= 0 || !rec.HasValue || rec.Value <= r.threshold {
		return
	}
	r.out = append(r.out, types.Finding{
		RuleID:   HighValueID,
		Subject:  []string{rec.ID},
		Severity: types.SevSuspicious,
		Evidence: map[string]any{"value": rec.Value, "threshold": r.threshold},
	})
}

func (r *highValue) Findings() []types.Finding { return r.out }
