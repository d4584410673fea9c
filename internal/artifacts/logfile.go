package artifacts

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
)

const maxLogLine = 1 << 20

type logReader struct {
	f    *os.File
	gz   *gzip.Reader
	br   *bufio.Reader
	max  int
	line int
	eof  bool
}

// openLog streams a line-oriented text log. Gzip-compressed logs are
// decompressed on the fly.
func openLog(path string, _ Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	r := &logReader{f: f, max: maxLogLine}
	var src io.Reader = f
	head := make([]byte, 2)
	if n, _ := f.ReadAt(head, 0); n == 2 && isGzip(head) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, unreadable(path, err)
		}
		r.gz = gz
		src = gz
	}
	r.br = bufio.NewReaderSize(src, 64*1024)
	return r, nil
}

func (r *logReader) Next(ctx context.Context) (Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if r.eof {
		return nil, io.EOF
	}
	var (
		buf       []byte
		truncated bool
		read      int
	)
	for {
		chunk, err := r.br.ReadSlice('\n')
		read += len(chunk)
		if room := r.max - len(buf); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			buf = append(buf, chunk...)
		} else if len(chunk) > 0 {
			truncated = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
			if read == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		break
	}
	r.line++
	buf = bytes.TrimRight(buf, "\r\n")
	return &LogLine{Number: r.line, Text: string(buf), Truncated: truncated}, nil
}

func (r *logReader) Close() error {
	if r.gz != nil {
		safeClose(r.gz)
		r.gz = nil
	}
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
