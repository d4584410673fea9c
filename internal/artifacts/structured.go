package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

var reTOMLStart = regexp.MustCompile(`^(\[\[?[A-Za-z0-9_.\-"]+\]\]?|[A-Za-z0-9_\-]+\s*=)`)

type documentReader struct {
	source string
	items  []any
	index  int
}

// openStructured decodes a JSON, YAML, TOML or XML document into plain maps,
// optionally validates it against a JSON Schema, then yields each element of
// the record array as a Document.
func openStructured(path string, opts Options) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	enc := opts.Encoding
	if enc == "" {
		enc = guessEncoding(path, data)
	}
	tree, err := decodeDocument(enc, data)
	if err != nil {
		return nil, unreadable(path, fmt.Errorf("decode %s: %w", enc, err))
	}
	if opts.Schema != "" {
		if err := validateDocument(opts.Schema, tree); err != nil {
			return nil, unreadable(path, err)
		}
	}
	source, items, err := locateRecords(tree, opts.RecordPath)
	if err != nil {
		return nil, unreadable(path, err)
	}
	return &documentReader{source: source, items: items}, nil
}

func (r *documentReader) Next(ctx context.Context) (Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if r.index >= len(r.items) {
		return nil, io.EOF
	}
	item := r.items[r.index]
	r.index++
	fields, ok := item.(map[string]any)
	if !ok {
		fields = map[string]any{"value": item}
	}
	return &Document{Source: r.source, Index: r.index, Fields: fields}, nil
}

func (r *documentReader) Close() error {
	r.items = nil
	return nil
}

func guessEncoding(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".xml":
		return "xml"
	}
	text := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case len(text) == 0:
		return "json"
	case text[0] == '{' || text[0] == '[':
		return "json"
	case text[0] == '<':
		return "xml"
	case reTOMLStart.Match(firstLine(text)):
		return "toml"
	}
	return "yaml"
}

func decodeDocument(enc string, data []byte) (any, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	switch strings.ToLower(enc) {
	case "json":
		d := json.NewDecoder(bytes.NewReader(data))
		d.UseNumber()
		var v any
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		return plain(v), nil
	case "yaml", "yml":
		d := yaml.NewDecoder(bytes.NewReader(data))
		var docs []any
		for {
			var v any
			err := d.Decode(&v)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
			docs = append(docs, plain(v))
		}
		switch len(docs) {
		case 0:
			return nil, errors.New("empty document")
		case 1:
			return docs[0], nil
		}
		return docs, nil
	case "toml":
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return plain(m), nil
	case "xml":
		return decodeXML(data)
	}
	return nil, fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, enc)
}

// plain converts decoder-specific values into map[string]any, []any, string,
// int64, float64, bool or nil.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = plain(x)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

func decodeXML(data []byte) (any, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = CharsetReader
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			v, err := xmlElement(d, se)
			if err != nil {
				return nil, err
			}
			return map[string]any{se.Name.Local: v}, nil
		}
	}
}

// xmlElement folds one element into a map: attributes and children become
// keys, repeated children become arrays, text-only elements become strings.
func xmlElement(d *xml.Decoder, start xml.StartElement) (any, error) {
	node := map[string]any{}
	for _, a := range start.Attr {
		node[a.Name.Local] = a.Value
	}
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := xmlElement(d, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			switch prev := node[name].(type) {
			case nil:
				node[name] = child
			case []any:
				node[name] = append(prev, child)
			default:
				node[name] = []any{prev, child}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if len(node) == 0 {
				return s, nil
			}
			if s != "" {
				node["#text"] = s
			}
			return node, nil
		}
	}
}

// CharsetReader decodes input labelled with any WHATWG encoding name.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

func validateDocument(schemaPath string, tree any) error {
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// the validator expects values as encoding/json produces them
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// locateRecords returns the record array named by a dotted path, or the first
// non-empty array of objects found breadth-first. A document with no such
// array is a single record.
func locateRecords(tree any, path string) (string, []any, error) {
	if path != "" {
		cur := tree
		for _, seg := range strings.Split(path, ".") {
			switch node := cur.(type) {
			case map[string]any:
				v, ok := node[seg]
				if !ok {
					return "", nil, fmt.Errorf("record path %q: key %q not found", path, seg)
				}
				cur = v
			case []any:
				i, err := strconv.Atoi(seg)
				if err != nil || i < 0 || i >= len(node) {
					return "", nil, fmt.Errorf("record path %q: bad index %q", path, seg)
				}
				cur = node[i]
			default:
				return "", nil, fmt.Errorf("record path %q: %q is not a container", path, seg)
			}
		}
		if arr, ok := cur.([]any); ok {
			return path, arr, nil
		}
		return path, []any{cur}, nil
	}

	type step struct {
		path string
		v    any
	}
	queue := []step{{"$", tree}}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		switch node := s.v.(type) {
		case []any:
			if objectArray(node) {
				return s.path, node, nil
			}
		case map[string]any:
			for _, k := range sortedKeys(node) {
				queue = append(queue, step{joinPath(s.path, k), node[k]})
			}
		}
	}
	if tree == nil {
		return "$", nil, nil
	}
	return "$", []any{tree}, nil
}

func objectArray(a []any) bool {
	if len(a) == 0 {
		return false
	}
	for _, x := range a {
		if _, ok := x.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func joinPath(parent, key string) string {
	if parent == "$" {
		return key
	}
	return parent + "." + key
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
