package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrUnreadableArtifact means the container could not be opened: corrupt
	// header, wrong magic bytes or unsupported compression.
	ErrUnreadableArtifact = errors.New("unreadable artifact")
	// ErrUnsupportedFormat means no reader is registered for the format tag.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Reader is a lazy, finite, single-pass sequence of raw entries decoded from
// one artifact. Next returns io.EOF once the artifact is exhausted. Close must
// be called on every path; it releases the underlying file handle.
type Reader interface {
	Next(ctx context.Context) (Entry, error)
	Close() error
}

// StatsReporter is implemented by readers that enforce Limits.
type StatsReporter interface {
	Stats() Stats
}

// Entry is one raw item yielded by a Reader. The concrete type depends on the
// format: *FileEntry, *LogLine, *Packet, *Message or *Document.
type Entry interface {
	entry()
}

// FileEntry is one member of an archive or container image.
type FileEntry struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Type      string // file, dir, symlink, other
	Hash      string // xxhash64 of the content read, hex
	Depth     int    // 0 for top-level members, >0 inside nested archives
	Truncated bool
}

// LogLine is one line of a text log, numbered from 1. Lines longer than the
// reader's cap keep only their first bytes and have Truncated set.
type LogLine struct {
	Number    int
	Text      string
	Truncated bool
}

// Packet is one captured frame with its decoded network and transport summary.
type Packet struct {
	Index     int
	Timestamp time.Time
	Length    int
	Network   string
	Src       string
	Dst       string
	Protocol  string
	SrcPort   string
	DstPort   string
}

// Header is one raw message header in file order, value still encoded.
type Header struct {
	Key   string
	Value string
}

// Attachment describes one MIME part marked as an attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	SHA256      string
}

// Message is one email message.
type Message struct {
	Index       int
	Headers     []Header
	Size        int
	Attachments []Attachment
}

// Document is one item of a tabular, structured or relational artifact.
// Absent or NULL fields are not present in Fields.
type Document struct {
	Source string // sheet, table or record path the item came from
	Index  int    // 1-based position within Source
	Fields map[string]any
}

func (*FileEntry) entry() {}
func (*LogLine) entry()   {}
func (*Packet) entry()    {}
func (*Message) entry()   {}
func (*Document) entry()  {}

// Options carries per-format reader settings. Zero values select defaults.
type Options struct {
	Limits Limits
	// Delimiter for CSV input; 0 picks ',' or '\t' for .tsv files.
	Delimiter rune
	// Sheet restricts Excel input to one sheet.
	Sheet string
	// Table restricts SQLite input to one table.
	Table string
	// RecordPath is a dotted path to the record array inside a structured
	// document. Empty means discover the first array of objects.
	RecordPath string
	// Schema is a JSON Schema file the structured document must satisfy.
	Schema string
	// Encoding forces the structured sub-format: json, yaml, toml or xml.
	Encoding string
}

// Limits controls bounded reading of archives and containers.
type Limits struct {
	MaxArchiveBytes int64
	MaxEntries      int
	MaxDepth        int
	TimeBudget      time.Duration
}

// Stats summarizes why a bounded read stopped early.
type Stats struct {
	AbortedByBytes   int
	AbortedByEntries int
	AbortedByDepth   int
	AbortedByTime    int
	// Corrupt counts streams that broke mid-way; entries before the break
	// were still yielded.
	Corrupt int
}

func (s *Stats) add(reason string) {
	switch reason {
	case "bytes":
		s.AbortedByBytes++
	case "entries":
		s.AbortedByEntries++
	case "depth":
		s.AbortedByDepth++
	case "time":
		s.AbortedByTime++
	}
}

// budget tracks the running counters of one bounded read.
type budget struct {
	limits       Limits
	decompressed int64
	entries      int
	deadline     time.Time
}

func newBudget(l Limits) *budget {
	b := &budget{limits: l}
	if l.TimeBudget > 0 {
		b.deadline = time.Now().Add(l.TimeBudget)
	}
	return b
}

// walkLimit returns "entries" once the entry cap is reached. It is the only
// limit that ends a walk; the others stop content reads.
func (b *budget) walkLimit() string {
	if b.limits.MaxEntries > 0 && b.entries >= b.limits.MaxEntries {
		return "entries"
	}
	return ""
}

// readLimit returns the name of the exhausted content limit ("bytes" or
// "time"), or "".
func (b *budget) readLimit() string {
	if b.limits.MaxArchiveBytes > 0 && b.decompressed >= b.limits.MaxArchiveBytes {
		return "bytes"
	}
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return "time"
	}
	return ""
}

func (b *budget) tooDeep(depth int) bool {
	return b.limits.MaxDepth > 0 && depth > b.limits.MaxDepth
}

// readAll copies r into memory in chunks, stopping at the remaining byte
// budget and checking the deadline between chunks.
func (b *budget) readAll(r io.Reader) ([]byte, error) {
	if !b.deadline.IsZero() && time.Now().After(b.deadline) {
		return nil, errors.New("time budget exceeded")
	}
	remain := int64(1 << 62)
	if b.limits.MaxArchiveBytes > 0 {
		remain = b.limits.MaxArchiveBytes - b.decompressed
		if remain <= 0 {
			return nil, errors.New("byte budget exceeded")
		}
	}
	var buf bytes.Buffer
	chunk := int64(32 * 1024)
	for remain > 0 {
		if !b.deadline.IsZero() && time.Now().After(b.deadline) {
			return buf.Bytes(), errors.New("time budget exceeded")
		}
		sz := chunk
		if sz > remain {
			sz = remain
		}
		n, err := io.CopyN(&buf, r, sz)
		b.decompressed += n
		remain -= n
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func safeClose(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
