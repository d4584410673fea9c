package artifacts

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
)

var errNotArchive = errors.New("not an archive")

// member is one raw archive header plus an optional content stream. body is
// only valid until the next call to the owning memberSource.
type member struct {
	name    string
	size    int64
	modTime time.Time
	typ     string
	body    io.Reader
}

// memberSource yields archive members and returns io.EOF at the end.
type memberSource func() (member, error)

type archiveReader struct {
	path    string
	f       *os.File
	closers []io.Closer
	src     memberSource
	budget  *budget
	stats   Stats
	pending []*FileEntry
	done    bool
	aborted map[string]bool
}

// openArchive detects the container by magic bytes (zip, gzip, tar, Docker
// save tarball) and streams its members without extracting to disk.
func openArchive(path string, opts Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	head := make([]byte, 512)
	n, _ := f.ReadAt(head, 0)
	head = head[:n]

	r := &archiveReader{path: path, f: f, budget: newBudget(opts.Limits)}
	switch {
	case isZip(head):
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, unreadable(path, err)
		}
		zr, err := zip.NewReader(f, fi.Size())
		if err != nil {
			_ = f.Close()
			return nil, unreadable(path, err)
		}
		r.src = zipMembers(zr)
	case isGzip(head):
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, unreadable(path, err)
		}
		r.closers = append(r.closers, gz)
		r.src = gzipMembers(gz, strings.TrimSuffix(filepath.Base(path), ".gz"))
	case isTar(head):
		if ok, _ := isContainerTar(path); ok {
			src, rc, err := imageMembers(path)
			if err == nil {
				r.closers = append(r.closers, rc)
				r.src = src
				break
			}
		}
		r.src = tarMembers(tar.NewReader(f))
	default:
		_ = f.Close()
		return nil, unreadable(path, errors.New("unrecognized archive magic"))
	}
	return r, nil
}

func (r *archiveReader) Next(ctx context.Context) (Entry, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if len(r.pending) > 0 {
			e := r.pending[0]
			r.pending = r.pending[1:]
			return e, nil
		}
		if r.done {
			return nil, io.EOF
		}
		if reason := r.budget.walkLimit(); reason != "" {
			r.abort(reason)
			r.done = true
			continue
		}
		m, err := r.src()
		if errors.Is(err, io.EOF) {
			r.done = true
			continue
		}
		if err != nil {
			// a stream that breaks mid-way keeps what was already yielded
			r.stats.Corrupt++
			r.done = true
			continue
		}
		e := r.materialize(m, m.name, 0)
		return e, nil
	}
}

// materialize turns a member into a FileEntry, reading its content for the
// fingerprint and queueing nested archive members behind it. Once the byte or
// time budget is spent only the header is kept.
func (r *archiveReader) materialize(m member, vpath string, depth int) *FileEntry {
	e := &FileEntry{Path: vpath, Size: m.size, ModTime: m.modTime, Type: m.typ, Depth: depth}
	r.budget.entries++
	if m.body == nil {
		return e
	}
	if reason := r.budget.readLimit(); reason != "" {
		r.abort(reason)
		e.Truncated = e.Size != 0
		return e
	}
	b, err := r.budget.readAll(m.body)
	e.Hash = fastHash(b)
	if m.size < 0 {
		e.Size = int64(len(b))
	}
	e.Truncated = err != nil || int64(len(b)) < e.Size
	if e.Truncated {
		if reason := r.budget.readLimit(); reason != "" {
			r.abort(reason)
		}
		return e
	}
	if r.budget.limits.MaxDepth > 0 && looksArchive(b) {
		r.pending = append(r.pending, r.expandNested(vpath, b, depth+1)...)
	}
	return e
}

func (r *archiveReader) expandNested(chain string, blob []byte, depth int) []*FileEntry {
	if r.budget.tooDeep(depth) {
		r.abort("depth")
		return nil
	}
	src, closer, err := membersFromBytes(filepath.Base(chain), blob)
	if err != nil {
		return nil
	}
	defer safeClose(closer)
	var out []*FileEntry
	for {
		if reason := r.budget.walkLimit(); reason != "" {
			r.abort(reason)
			return out
		}
		m, err := src()
		if err != nil {
			return out
		}
		pending := len(r.pending)
		e := r.materialize(m, chain+"::"+m.name, depth)
		out = append(out, e)
		// members of deeper archives follow their parent
		if len(r.pending) > pending {
			out = append(out, r.pending[pending:]...)
			r.pending = r.pending[:pending]
		}
	}
}

// abort counts each exhausted limit once per artifact.
func (r *archiveReader) abort(reason string) {
	if r.aborted == nil {
		r.aborted = map[string]bool{}
	}
	if r.aborted[reason] {
		return
	}
	r.aborted[reason] = true
	r.stats.add(reason)
}

func (r *archiveReader) Stats() Stats { return r.stats }

func (r *archiveReader) Close() error {
	for i := len(r.closers) - 1; i >= 0; i-- {
		safeClose(r.closers[i])
	}
	r.closers = nil
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func membersFromBytes(name string, b []byte) (memberSource, io.Closer, error) {
	switch {
	case isZip(b):
		zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
		if err != nil {
			return nil, nil, err
		}
		return zipMembers(zr), nil, nil
	case isGzip(b):
		gz, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, nil, err
		}
		return gzipMembers(gz, strings.TrimSuffix(name, ".gz")), gz, nil
	case isTar(b):
		return tarMembers(tar.NewReader(bytes.NewReader(b))), nil, nil
	}
	return nil, nil, errNotArchive
}

func zipMembers(zr *zip.Reader) memberSource {
	i := 0
	var open io.ReadCloser
	return func() (member, error) {
		if open != nil {
			_ = open.Close()
			open = nil
		}
		if i >= len(zr.File) {
			return member{}, io.EOF
		}
		zf := zr.File[i]
		i++
		m := member{name: zf.Name, size: int64(zf.UncompressedSize64), modTime: zf.Modified, typ: "file"}
		switch {
		case zf.FileInfo().IsDir():
			m.typ = "dir"
			return m, nil
		case zf.Mode()&os.ModeSymlink != 0:
			m.typ = "symlink"
		}
		rc, err := zf.Open()
		if err != nil {
			// unsupported method: the header is still reported
			return m, nil
		}
		open = rc
		m.body = rc
		return m, nil
	}
}

func tarMembers(tr *tar.Reader) memberSource {
	return func() (member, error) {
		hdr, err := tr.Next()
		if err != nil {
			return member{}, err
		}
		m := member{name: hdr.Name, size: hdr.Size, modTime: hdr.ModTime, typ: tarType(hdr.Typeflag)}
		if m.typ == "file" {
			m.body = tr
		}
		return m, nil
	}
}

// gzipMembers yields the members of a compressed tarball, or the single
// decompressed stream as one member when it is not a tar.
func gzipMembers(gz *gzip.Reader, fallback string) memberSource {
	br := bufio.NewReader(gz)
	head, _ := br.Peek(512)
	if isTar(head) {
		return tarMembers(tar.NewReader(br))
	}
	done := false
	return func() (member, error) {
		if done {
			return member{}, io.EOF
		}
		done = true
		name := gz.Name
		if name == "" {
			name = fallback
		}
		return member{name: name, size: -1, modTime: gz.ModTime, typ: "file", body: br}, nil
	}
}

func tarType(flag byte) string {
	switch flag {
	case tar.TypeReg:
		return "file"
	case tar.TypeDir:
		return "dir"
	case tar.TypeSymlink, tar.TypeLink:
		return "symlink"
	default:
		return "other"
	}
}

func looksArchive(b []byte) bool {
	return isZip(b) || isGzip(b) || isTar(b)
}

func fastHash(b []byte) string {
	if len(b) == 0 {
		return "0000000000000000"
	}
	sum := xxhash.Sum64(b)
	var buf [16]byte
	const hex = "0123456789abcdef"
	for i := 15; i >= 0; i-- {
		buf[i] = hex[sum&0xF]
		sum >>= 4
	}
	return string(buf[:])
}
