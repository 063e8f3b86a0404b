package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"detectedits-go/internal/detect"
)

// FileStore keeps watermarks in a JSON document on local disk. Writes go
// through a temp file in the same directory and a rename, so a crash never
// leaves a truncated document behind.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the document at path. The parent
// directory is created if needed; the document itself is created on first
// Write.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create watermark directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the location of the watermark document.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the stored watermark for a layer.
func (s *FileStore) Read(_ context.Context, layerID int) (detect.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return detect.Watermark{}, err
	}
	w, ok := doc.Lookup(layerID)
	if !ok {
		return detect.Watermark{}, detect.ErrWatermarkNotFound
	}
	return w, nil
}

// Write replaces the watermark for a layer, keeping other layers' entries.
func (s *FileStore) Write(_ context.Context, layerID int, w detect.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Set(layerID, w)
	return s.save(doc)
}

// Delete removes the watermark for a layer. The next run bootstraps again.
func (s *FileStore) Delete(_ context.Context, layerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if !doc.Delete(layerID) {
		return nil
	}
	return s.save(doc)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// load reads the document. A missing file is an empty document.
func (s *FileStore) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading watermark file: %w", err)
	}
	doc, err := DecodeDocument(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc *Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-watermark-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync watermark: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Store = (*FileStore)(nil)
