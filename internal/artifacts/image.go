package artifacts

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// isContainerTar reports whether a tar looks like a `docker save` output.
func isContainerTar(fullPath string) (bool, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return false, err
	}
	defer f.Close()
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) || hdr == nil {
			return false, nil
		}
		if err != nil {
			return false, nil
		}
		name := hdr.Name
		if name == "manifest.json" || strings.HasSuffix(name, "/layer.tar") || strings.HasSuffix(name, "\\layer.tar") {
			return true, nil
		}
	}
}

// imageMembers flattens the layers of a saved image into the filesystem a
// container would see, whiteouts applied.
func imageMembers(path string) (memberSource, io.Closer, error) {
	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return nil, nil, err
	}
	if _, err := img.Manifest(); err != nil {
		return nil, nil, err
	}
	rc := mutate.Extract(img)
	return tarMembers(tar.NewReader(rc)), rc, nil
}
