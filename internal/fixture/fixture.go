// Package fixture generates and caches the random payloads the soak
// CLI uploads, adapted from the teacher's internal/testdata generator.
package fixture

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethanadams/s3client/internal/logging"
	"github.com/ethanadams/s3client/internal/metrics"
)

const dataDir = "/tmp/s3soak-data"

// Generator produces deterministically-named, randomly-filled payload
// files on disk and hands back a path a caller can stream from, caching
// by (name, size) so repeated soak cycles reuse the same bytes instead
// of regenerating them every run.
type Generator struct {
	dir string
}

// New returns a Generator rooted at the default cache directory.
func New() *Generator {
	return &Generator{dir: dataDir}
}

// Ensure returns the path to a size-byte file named name, creating or
// regenerating it if missing or the wrong size.
func (g *Generator) Ensure(name string, size int64) (string, error) {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", fmt.Errorf("fixture: create cache dir: %w", err)
	}

	path := filepath.Join(g.dir, name+".bin")

	if info, err := os.Stat(path); err == nil && info.Size() == size {
		return path, nil
	} else if err == nil {
		logging.Debug("fixture: regenerating %s (wrong size: %d vs %d)", name, info.Size(), size)
		os.Remove(path)
	}

	logging.Info("fixture: generating %s (%s)", name, metrics.FormatBytesLabel(size))
	if err := writeRandomFile(path, size); err != nil {
		return "", err
	}
	return path, nil
}

func writeRandomFile(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fixture: create %s: %w", path, err)
	}
	defer f.Close()

	const chunkSize = 1024 * 1024
	buf := make([]byte, chunkSize)
	remaining := size
	for remaining > 0 {
		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := rand.Read(buf[:n]); err != nil {
			return fmt.Errorf("fixture: generate random data: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("fixture: write %s: %w", path, err)
		}
		remaining -= n
	}
	return nil
}
