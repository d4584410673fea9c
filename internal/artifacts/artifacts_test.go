package artifacts

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func makeGzip(t *testing.T, path string, name string, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	gw.Name = name
	_, _ = gw.Write([]byte(content))
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

func makeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0600, Size: int64(len(content)), ModTime: time.Unix(1700000000, 0)})
		_, _ = tw.Write([]byte(content))
	}
	_ = tw.Close()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	_, _ = gw.Write(buf.Bytes())
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

func readEntries(t *testing.T, path string, f Format, opts Options) ([]Entry, Reader) {
	t.Helper()
	r, err := Open(path, f, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	var out []Entry
	for {
		e, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out, r
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func fileEntries(t *testing.T, es []Entry) map[string]*FileEntry {
	t.Helper()
	out := make(map[string]*FileEntry, len(es))
	for _, e := range es {
		fe, ok := e.(*FileEntry)
		require.True(t, ok, "unexpected entry %T", e)
		out[fe.Path] = fe
	}
	return out
}

func TestArchive_ZipYieldsEveryEntry(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sample.zip")
	makeZip(t, p, map[string]string{"a.txt": "hello", "b/": "", "b/empty.txt": ""})

	es, _ := readEntries(t, p, FormatArchive, Options{})
	got := fileEntries(t, es)
	require.Len(t, got, 3)
	assert.Equal(t, int64(5), got["a.txt"].Size)
	assert.Equal(t, "file", got["a.txt"].Type)
	assert.Equal(t, fastHash([]byte("hello")), got["a.txt"].Hash)
	assert.Equal(t, "dir", got["b/"].Type)
	assert.Equal(t, int64(0), got["b/empty.txt"].Size)
}

func TestArchive_DetectsByMagicNotSuffix(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "evidence.dat")
	makeZip(t, p, map[string]string{"x.bin": "123"})

	f, err := Sniff(p)
	require.NoError(t, err)
	assert.Equal(t, FormatArchive, f)

	es, _ := readEntries(t, p, FormatArchive, Options{})
	require.Len(t, es, 1)
	assert.Equal(t, "x.bin", es[0].(*FileEntry).Path)
}

func TestArchive_TarGzAndSingleGz(t *testing.T) {
	dir := t.TempDir()
	tgz := filepath.Join(dir, "bundle.tgz")
	gz := filepath.Join(dir, "notes.txt.gz")
	makeTarGz(t, tgz, map[string]string{"etc/passwd": "root:x:0:0", "run.sh": "#!/bin/sh"})
	makeGzip(t, gz, "notes.txt", "line1\nline2")

	es, _ := readEntries(t, tgz, FormatArchive, Options{})
	got := fileEntries(t, es)
	require.Len(t, got, 2)
	assert.Equal(t, int64(len("root:x:0:0")), got["etc/passwd"].Size)
	assert.Equal(t, time.Unix(1700000000, 0).Unix(), got["run.sh"].ModTime.Unix())

	es, _ = readEntries(t, gz, FormatArchive, Options{})
	got = fileEntries(t, es)
	require.Contains(t, got, "notes.txt")
	assert.Equal(t, int64(11), got["notes.txt"].Size)
}

func TestArchive_NestedArchivesUseChainedPaths(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "outer.tar.gz")
	inner := zipBytes(t, map[string]string{"x.txt": "nested"})
	makeTarGz(t, p, map[string]string{"inner.zip": string(inner)})

	es, _ := readEntries(t, p, FormatArchive, Options{Limits: Limits{MaxDepth: 2}})
	require.Len(t, es, 2)
	assert.Equal(t, "inner.zip", es[0].(*FileEntry).Path)
	nested := es[1].(*FileEntry)
	assert.Equal(t, "inner.zip::x.txt", nested.Path)
	assert.Equal(t, 1, nested.Depth)
	assert.Equal(t, int64(6), nested.Size)

	// without a depth budget the inner archive is a plain entry
	es, _ = readEntries(t, p, FormatArchive, Options{})
	assert.Len(t, es, 1)
}

func TestArchive_EntryLimitStopsEarly(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "many.zip")
	makeZip(t, p, map[string]string{"1": "a", "2": "b", "3": "c", "4": "d", "5": "e"})

	es, r := readEntries(t, p, FormatArchive, Options{Limits: Limits{MaxEntries: 2}})
	assert.Len(t, es, 2)
	st := r.(StatsReporter).Stats()
	assert.Equal(t, 1, st.AbortedByEntries)
}

func TestArchive_ByteLimitTruncates(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.zip")
	makeZip(t, p, map[string]string{"big.bin": string(bytes.Repeat([]byte("A"), 4096))})

	es, _ := readEntries(t, p, FormatArchive, Options{Limits: Limits{MaxArchiveBytes: 1024}})
	require.Len(t, es, 1)
	assert.True(t, es[0].(*FileEntry).Truncated)
	assert.Equal(t, int64(4096), es[0].(*FileEntry).Size)
}

func TestArchive_ByteBudgetKeepsEveryHeader(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "large.zip")
	chunk := string(bytes.Repeat([]byte("Z"), 64<<10))
	makeZip(t, p, map[string]string{"1.bin": chunk, "2.bin": chunk, "3.bin": chunk, "4.bin": chunk})

	es, r := readEntries(t, p, FormatArchive, Options{Limits: Limits{MaxArchiveBytes: 100 << 10, MaxDepth: 2}})
	got := fileEntries(t, es)
	require.Len(t, got, 4, "every member is yielded past the byte budget")
	complete, unread := 0, 0
	for _, e := range got {
		assert.Equal(t, int64(64<<10), e.Size)
		if !e.Truncated {
			complete++
		}
		if e.Hash == "" {
			unread++
		}
	}
	assert.Equal(t, 1, complete)
	assert.Equal(t, 2, unread)
	assert.Equal(t, 1, r.(StatsReporter).Stats().AbortedByBytes)
}

func TestArchive_TimeBudgetKeepsEveryHeader(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "slow.zip")
	makeZip(t, p, map[string]string{"a": "1", "b": "2", "c": "3"})

	r, err := Open(p, FormatArchive, Options{Limits: Limits{TimeBudget: time.Nanosecond}})
	require.NoError(t, err)
	defer r.Close()
	time.Sleep(5 * time.Millisecond)
	n := 0
	for {
		e, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.True(t, e.(*FileEntry).Truncated)
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, r.(StatsReporter).Stats().AbortedByTime)
}

func TestArchive_UnreadableMagic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "fake.zip")
	require.NoError(t, os.WriteFile(p, []byte("this is not an archive"), 0o600))

	_, err := Open(p, FormatArchive, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadableArtifact)

	_, err = Open(filepath.Join(dir, "missing.zip"), FormatArchive, Options{})
	assert.ErrorIs(t, err, ErrUnreadableArtifact)
}

func TestArchive_RespectsContextCancel(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.zip")
	makeZip(t, p, map[string]string{"a": "1"})
	r, err := Open(p, FormatArchive, Options{})
	require.NoError(t, err)
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLog_NumbersLinesAndGunzips(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(plain, []byte("a\nb\r\n\nc"), 0o600))
	gz := filepath.Join(dir, "access.log.gz")
	makeGzip(t, gz, "access.log", "first\nsecond\n")

	es, _ := readEntries(t, plain, FormatLog, Options{})
	require.Len(t, es, 4)
	want := []string{"a", "b", "", "c"}
	for i, e := range es {
		ll := e.(*LogLine)
		assert.Equal(t, i+1, ll.Number)
		assert.Equal(t, want[i], ll.Text)
	}

	es, _ = readEntries(t, gz, FormatLog, Options{})
	require.Len(t, es, 2)
	assert.Equal(t, "second", es[1].(*LogLine).Text)
}

func TestReader_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o600))
	r, err := Open(p, FormatLog, Options{})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestLog_OverlongLineIsCappedNotFatal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "wide.log")
	require.NoError(t, os.WriteFile(p, []byte("short\n"+string(bytes.Repeat([]byte("x"), 100))+"\r\nend"), 0o600))

	r, err := Open(p, FormatLog, Options{})
	require.NoError(t, err)
	defer r.Close()
	r.(*logReader).max = 8

	var lines []*LogLine
	for {
		e, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, e.(*LogLine))
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "short", lines[0].Text)
	assert.False(t, lines[0].Truncated)
	assert.Equal(t, "xxxxxxxx", lines[1].Text)
	assert.True(t, lines[1].Truncated)
	assert.Equal(t, 3, lines[2].Number)
	assert.Equal(t, "end", lines[2].Text)
}
