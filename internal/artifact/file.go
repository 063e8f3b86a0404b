// Package artifact writes error artifacts: standalone text files describing a
// handled failure, one per failure event, for operators to find after a
// scheduled run.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"detectedits-go/internal/detect"
)

// nameLayout is the timestamp part of an artifact name: Error20240115_10_30_00.txt.
const nameLayout = "20060102_15_04_05"

// maxSuffix bounds the search for a free name within one second.
const maxSuffix = 1000

// FileWriter creates artifacts in a directory. Names come from the clock;
// artifacts written within the same second get a _N suffix so none is
// overwritten.
type FileWriter struct {
	dir   string
	clock detect.Clock
	mu    sync.Mutex
}

// NewFileWriter creates the directory if needed.
func NewFileWriter(dir string, clock detect.Clock) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileWriter{dir: dir, clock: clock}, nil
}

// Write stores msg in a new file and returns its path.
func (w *FileWriter) Write(msg string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := w.clock.Now().Format(nameLayout)
	for n := 0; n < maxSuffix; n++ {
		name := fmt.Sprintf("Error%s.txt", stamp)
		if n > 0 {
			name = fmt.Sprintf("Error%s_%d.txt", stamp, n)
		}
		path := filepath.Join(w.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating artifact: %w", err)
		}

		if _, err := f.WriteString(msg); err != nil {
			f.Close()
			return "", fmt.Errorf("writing artifact %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("closing artifact %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free artifact name for %s in %s", stamp, w.dir)
}

var _ detect.ArtifactWriter = (*FileWriter)(nil)
