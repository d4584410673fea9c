package artifacts

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const sniffLen = 1024

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	pcapMagics  = [][]byte{
		{0xa1, 0xb2, 0xc3, 0xd4}, {0xd4, 0xc3, 0xb2, 0xa1},
		{0xa1, 0xb2, 0x3c, 0x4d}, {0x4d, 0x3c, 0xb2, 0xa1},
	}
	pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

	reLogSniff    = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+ .*\[.*\] "`)
	reHeaderSniff = regexp.MustCompile(`(?i)^(from|to|subject|date|received|return-path|message-id|mime-version|delivered-to|x-[a-z0-9-]+):`)
)

// Sniff inspects the first bytes of path and guesses its format. It returns
// ErrUnsupportedFormat when nothing matches.
func Sniff(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", unreadable(path, err)
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", unreadable(path, err)
	}
	head = head[:n]

	if isGzip(head) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", unreadable(path, err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", unreadable(path, err)
		}
		defer gz.Close()
		inner := make([]byte, sniffLen)
		m, _ := io.ReadFull(gz, inner)
		inner = inner[:m]
		if !isTar(inner) && reLogSniff.Match(firstLine(inner)) {
			return FormatLog, nil
		}
		return FormatArchive, nil
	}
	return SniffBytes(filepath.Base(path), head)
}

// SniffBytes guesses a format from a file name and its leading bytes.
func SniffBytes(name string, head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, sqliteMagic):
		return FormatRelational, nil
	case isPcap(head):
		return FormatPacketCapture, nil
	case isZip(head):
		if isSpreadsheetZip(name, head) {
			return FormatTabular, nil
		}
		return FormatArchive, nil
	case isGzip(head), isTar(head):
		return FormatArchive, nil
	}

	text := bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(text) == 0 {
		return "", fmt.Errorf("%w: %s: empty content", ErrUnsupportedFormat, name)
	}
	line := firstLine(text)
	switch {
	case text[0] == '{' || text[0] == '[' || text[0] == '<':
		return FormatStructured, nil
	case bytes.HasPrefix(text, []byte("---")):
		return FormatStructured, nil
	case bytes.HasPrefix(line, []byte("From ")) || reHeaderSniff.Match(line):
		return FormatMessage, nil
	case reLogSniff.Match(line):
		return FormatLog, nil
	case looksDelimited(text):
		return FormatTabular, nil
	}
	return "", fmt.Errorf("%w: %s: no decoder recognizes the content", ErrUnsupportedFormat, name)
}

// FromExtension maps a file suffix to a format.
func FromExtension(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".log.gz"), strings.HasSuffix(lower, ".log"), strings.HasSuffix(lower, ".access"):
		return FormatLog, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar"),
		strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".jar"), strings.HasSuffix(lower, ".gz"):
		return FormatArchive, nil
	case strings.HasSuffix(lower, ".pcap"), strings.HasSuffix(lower, ".pcapng"), strings.HasSuffix(lower, ".cap"):
		return FormatPacketCapture, nil
	case strings.HasSuffix(lower, ".eml"), strings.HasSuffix(lower, ".mbox"):
		return FormatMessage, nil
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".tsv"), strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return FormatTabular, nil
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"),
		strings.HasSuffix(lower, ".toml"), strings.HasSuffix(lower, ".xml"):
		return FormatStructured, nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return FormatRelational, nil
	}
	return "", fmt.Errorf("%w: %s: unknown extension", ErrUnsupportedFormat, path)
}

func isPcap(b []byte) bool {
	if bytes.HasPrefix(b, pcapngMagic) {
		return true
	}
	for _, m := range pcapMagics {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && (b[2] == 3 || b[2] == 5) && (b[3] == 4 || b[3] == 6)
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func isTar(b []byte) bool {
	return len(b) >= 262 && bytes.Equal(b[257:262], []byte("ustar"))
}

// isSpreadsheetZip recognizes OOXML workbooks by suffix, or by the first
// local file header naming the OOXML content-types part.
func isSpreadsheetZip(name string, head []byte) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm") {
		return true
	}
	if len(head) < 30 {
		return false
	}
	n := int(head[26]) | int(head[27])<<8
	if 30+n > len(head) {
		return false
	}
	first := string(head[30 : 30+n])
	return first == "[Content_Types].xml" && bytes.Contains(head, []byte("xl/"))
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return bytes.TrimRight(b[:i], "\r")
	}
	return b
}

// looksDelimited reports whether the first two lines share a non-zero count
// of commas, tabs or semicolons.
func looksDelimited(text []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(text))
	var lines []string
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 2 {
		return false
	}
	for _, d := range []string{",", "\t", ";"} {
		c := strings.Count(lines[0], d)
		if c > 0 && c == strings.Count(lines[1], d) {
			return true
		}
	}
	return false
}
