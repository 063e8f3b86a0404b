package artifact

import (
	"fmt"
	"sync"

	"detectedits-go/internal/detect"
)

// MemoryWriter keeps artifacts in memory, for tests.
type MemoryWriter struct {
	mu        sync.Mutex
	artifacts []string
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

func (m *MemoryWriter) Write(msg string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, msg)
	return fmt.Sprintf("memory://%d", len(m.artifacts)), nil
}

// Artifacts returns a copy of everything written so far.
func (m *MemoryWriter) Artifacts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.artifacts...)
}

var _ detect.ArtifactWriter = (*MemoryWriter)(nil)
