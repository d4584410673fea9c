package artifacts

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/varalys/osintkit/internal/types"
)

// Format is the caller-supplied tag selecting an artifact decoder.
type Format string

const (
	FormatArchive       Format = "archive"
	FormatLog           Format = "log"
	FormatPacketCapture Format = "packet-capture"
	FormatMessage       Format = "message"
	FormatTabular       Format = "tabular"
	FormatStructured    Format = "structured"
	FormatRelational    Format = "relational-store"
)

// FormatAuto asks Resolve to sniff the content, then fall back to the file
// extension.
const FormatAuto Format = "auto"

// Opener opens path as a Reader. Implementations return errors wrapping
// ErrUnreadableArtifact when the container cannot be decoded.
type Opener func(path string, opts Options) (Reader, error)

var (
	mu      sync.RWMutex
	openers = map[Format]Opener{
		FormatArchive:       openArchive,
		FormatLog:           openLog,
		FormatPacketCapture: openPacketCapture,
		FormatMessage:       openMessage,
		FormatTabular:       openTabular,
		FormatStructured:    openStructured,
		FormatRelational:    openSQLite,
	}
	defaultKinds = map[Format]types.SourceKind{
		FormatArchive:       types.KindFileEntry,
		FormatLog:           types.KindLogLine,
		FormatPacketCapture: types.KindPacket,
		FormatMessage:       types.KindMessage,
		FormatTabular:       types.KindRow,
		FormatStructured:    types.KindRow,
		FormatRelational:    types.KindRow,
	}
)

// Register installs or replaces the opener for a format tag.
func Register(f Format, o Opener, kind types.SourceKind) {
	mu.Lock()
	defer mu.Unlock()
	openers[f] = o
	defaultKinds[f] = kind
}

// Lookup returns the opener registered for f.
func Lookup(f Format) (Opener, error) {
	mu.RLock()
	defer mu.RUnlock()
	o, ok := openers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
	return o, nil
}

// Formats lists the registered tags in lexical order.
func Formats() []Format {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Format, 0, len(openers))
	for f := range openers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultKind is the source kind a format's entries normalize to unless the
// caller overrides it (structured dumps can hold posts or transactions).
func DefaultKind(f Format) types.SourceKind {
	mu.RLock()
	defer mu.RUnlock()
	return defaultKinds[f]
}

// Open resolves the decoder for f and opens path with it.
func Open(path string, f Format, opts Options) (Reader, error) {
	o, err := Lookup(f)
	if err != nil {
		return nil, err
	}
	return o(path, opts)
}

// Resolve maps a user-supplied tag to a Format. An empty tag or "auto" sniffs
// the file content and falls back to the extension.
func Resolve(path, tag string) (Format, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || tag == string(FormatAuto) {
		if f, err := Sniff(path); err == nil {
			return f, nil
		}
		return FromExtension(path)
	}
	f := Format(tag)
	if _, err := Lookup(f); err != nil {
		return "", err
	}
	return f, nil
}

func unreadable(path string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrUnreadableArtifact, path)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreadableArtifact, path, err)
}
