package artifacts

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layer(t *testing.T, files map[string]string) v1.Layer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for n, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: n, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	b := buf.Bytes()
	l, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	})
	require.NoError(t, err)
	return l
}

func TestImage_SavedTarballIsFlattened(t *testing.T) {
	base := layer(t, map[string]string{
		"etc/passwd":     "root:x:0:0",
		"tmp/secret.txt": "removed later",
	})
	top := layer(t, map[string]string{
		"tmp/.wh.secret.txt": "",
		"app/run.sh":         "#!/bin/sh\necho hi\n",
	})
	img, err := mutate.AppendLayers(empty.Image, base, top)
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "image.tar")
	ref, err := name.ParseReference("example.com/evidence:latest")
	require.NoError(t, err)
	require.NoError(t, tarball.WriteToFile(p, ref, img))

	ok, err := isContainerTar(p)
	require.NoError(t, err)
	require.True(t, ok)

	es, _ := readEntries(t, p, FormatArchive, Options{})
	got := fileEntries(t, es)

	require.Contains(t, got, "etc/passwd")
	require.Contains(t, got, "app/run.sh")
	assert.Equal(t, int64(len("#!/bin/sh\necho hi\n")), got["app/run.sh"].Size)
	assert.Equal(t, fastHash([]byte("root:x:0:0")), got["etc/passwd"].Hash)
	assert.NotContains(t, got, "tmp/secret.txt", "whiteout removes the lower layer file")
	assert.NotContains(t, got, "tmp/.wh.secret.txt")
	assert.NotContains(t, got, "manifest.json", "image metadata is not a container file")
}

func TestImage_PlainTarIsNotAnImage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "plain.tar")
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "notes.txt", Mode: 0644, Size: 2, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("hi"))
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))

	ok, err := isContainerTar(p)
	require.NoError(t, err)
	assert.False(t, ok)

	es, _ := readEntries(t, p, FormatArchive, Options{})
	got := fileEntries(t, es)
	assert.Contains(t, got, "notes.txt")
}
