package normalize

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/types"
)

// headerDecoder decodes RFC 2047 encoded-words. Charsets outside the few
// mime knows natively go through x/text; an unknown charset falls back to
// reading the raw bytes as UTF-8.
type headerDecoder struct {
	strict   *mime.WordDecoder
	fallback *mime.WordDecoder
}

func newHeaderDecoder() *headerDecoder {
	return &headerDecoder{
		strict: &mime.WordDecoder{CharsetReader: artifacts.CharsetReader},
		fallback: &mime.WordDecoder{CharsetReader: func(_ string, input io.Reader) (io.Reader, error) {
			return input, nil
		}},
	}
}

// Decode returns the header value with every encoded-word decoded into one
// valid UTF-8 string.
func (d *headerDecoder) Decode(v string) string {
	out, err := d.strict.DecodeHeader(v)
	if err != nil {
		out, err = d.fallback.DecodeHeader(v)
		if err != nil {
			out = v
		}
	}
	return strings.ToValidUTF8(out, "\uFFFD")
}

// DecodeHeader decodes one raw header value.
func DecodeHeader(v string) string { return std.words.Decode(v) }

func (n *Normalizer) message(m *artifacts.Message) types.Record {
	rec := types.Record{
		Kind:       types.KindMessage,
		Value:      float64(m.Size),
		HasValue:   true,
		Attributes: map[string]any{},
	}
	var order []string
	values := map[string][]string{}
	for _, h := range m.Headers {
		k := textproto.CanonicalMIMEHeaderKey(h.Key)
		if _, ok := values[k]; !ok {
			order = append(order, k)
		}
		values[k] = append(values[k], n.words.Decode(h.Value))
	}
	for _, k := range order {
		rec.Attributes[k] = strings.Join(values[k], "; ")
	}

	rec.ID = strings.TrimSpace(first(values["Message-Id"]))
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("message:%d", m.Index)
	}
	if date := first(values["Date"]); date != "" {
		if ts, err := mail.ParseDate(date); err == nil {
			ts = ts.UTC()
			rec.Timestamp = &ts
		} else {
			rec.RawTimestamp = date
		}
	}

	var set types.ActorSet
	from := addresses(values["From"])
	set.Add(from...)
	var to []string
	for _, k := range []string{"To", "Cc", "Bcc"} {
		to = append(to, addresses(values[k])...)
	}
	set.Add(to...)
	rec.Actors = set.Slice()
	if len(from) > 0 && len(to) > 0 {
		rec.Origins = from
		rec.Targets = to
	}

	rec.Attributes["attachments"] = int64(len(m.Attachments))
	if len(m.Attachments) > 0 {
		names := make([]string, 0, len(m.Attachments))
		exts := make([]string, 0, len(m.Attachments))
		sums := make([]string, 0, len(m.Attachments))
		ctypes := make([]string, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			name := n.words.Decode(a.Filename)
			names = append(names, name)
			if ext := Extension(name); ext != "" {
				exts = append(exts, ext)
			}
			sums = append(sums, a.SHA256)
			ctypes = append(ctypes, a.ContentType)
		}
		rec.Attributes["attachment_names"] = names
		rec.Attributes["attachment_extensions"] = exts
		rec.Attributes["attachment_sha256"] = sums
		rec.Attributes["attachment_content_types"] = ctypes
	}
	return rec
}

// addresses extracts lower-cased mailbox addresses from decoded header
// values. Values that are not valid address lists are kept verbatim.
func addresses(vals []string) []string {
	var out []string
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		list, err := mail.ParseAddressList(v)
		if err != nil {
			out = append(out, strings.ToLower(strings.Trim(v, "<>")))
			continue
		}
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
