package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Fetcher downloads one extract by file name and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// writeFile streams r into dir/name through a temporary file so a failed download never leaves a
// partial extract under the final name.
func writeFile(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".*.part")
	if err != nil {
		return "", errors.Wrap(err, "create download file")
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "close download file")
	}
	dst := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "move download into place")
	}
	return dst, nil
}
