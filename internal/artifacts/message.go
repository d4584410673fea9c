package artifacts

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"strings"
)

const maxMIMEDepth = 8

var mboxSeparator = []byte("From ")

type messageReader struct {
	f     *os.File
	br    *bufio.Reader
	mbox  bool
	index int
	done  bool
}

// openMessage reads a single RFC 5322 message or an mbox file. Mbox input is
// recognized by a leading "From " separator line.
func openMessage(path string, _ Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(len(mboxSeparator))
	return &messageReader{f: f, br: br, mbox: bytes.Equal(head, mboxSeparator)}, nil
}

func (r *messageReader) Next(ctx context.Context) (Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	for !r.done {
		raw, err := r.nextRaw()
		if err != nil {
			r.done = true
			return nil, err
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		r.index++
		return parseMessage(r.index, raw), nil
	}
	return nil, io.EOF
}

// nextRaw returns the bytes of the next message, without its mbox separator.
func (r *messageReader) nextRaw() ([]byte, error) {
	if !r.mbox {
		r.done = true
		return io.ReadAll(r.br)
	}
	var buf bytes.Buffer
	for {
		line, err := r.br.ReadBytes('\n')
		if bytes.HasPrefix(line, mboxSeparator) {
			if buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			line = nil
		}
		buf.Write(line)
		if errors.Is(err, io.EOF) {
			r.done = true
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *messageReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func parseMessage(index int, raw []byte) *Message {
	headers, body := splitHeaders(raw)
	m := &Message{Index: index, Headers: headers, Size: len(raw)}
	h := textproto.MIMEHeader{}
	for _, hd := range headers {
		h.Add(hd.Key, hd.Value)
	}
	m.Attachments = walkParts(h, body, 0)
	return m
}

// splitHeaders unfolds the header block in file order and returns the body
// that follows the first empty line.
func splitHeaders(raw []byte) ([]Header, []byte) {
	var out []Header
	rest := raw
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			return out, rest
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(out) > 0 {
				last := &out[len(out)-1]
				last.Value += " " + strings.TrimSpace(string(line))
			}
			continue
		}
		k, v, ok := strings.Cut(string(line), ":")
		if !ok || strings.ContainsAny(k, " \t") {
			continue
		}
		out = append(out, Header{Key: k, Value: strings.TrimSpace(v)})
	}
	return out, nil
}

// walkParts descends multipart bodies and returns the parts marked as
// attachments, content decoded for size and digest.
func walkParts(h textproto.MIMEHeader, body []byte, depth int) []Attachment {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		if depth >= maxMIMEDepth {
			return nil
		}
		mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		var out []Attachment
		for {
			p, err := mr.NextRawPart()
			if err != nil {
				return out
			}
			b, err := io.ReadAll(p)
			if err != nil {
				return out
			}
			out = append(out, walkParts(p.Header, b, depth+1)...)
		}
	}
	if a, ok := attachmentOf(h, mediaType, params, body); ok {
		return []Attachment{a}
	}
	return nil
}

func attachmentOf(h textproto.MIMEHeader, mediaType string, ctParams map[string]string, body []byte) (Attachment, bool) {
	disp, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	name := dparams["filename"]
	if name == "" {
		name = ctParams["name"]
	}
	if disp != "attachment" && (disp != "" || name == "") {
		return Attachment{}, false
	}
	content := decodeTransfer(h.Get("Content-Transfer-Encoding"), body)
	sum := sha256.Sum256(content)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return Attachment{
		Filename:    name,
		ContentType: mediaType,
		Size:        len(content),
		SHA256:      hex.EncodeToString(sum[:]),
	}, true
}

func decodeTransfer(encoding string, body []byte) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		b, err := io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(bytes.TrimSpace(body))))
		if err != nil && len(b) == 0 {
			return body
		}
		return b
	case "quoted-printable":
		b, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil && len(b) == 0 {
			return body
		}
		return b
	}
	return body
}
