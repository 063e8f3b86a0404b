package watermark

import (
	"context"
	"sync"

	"detectedits-go/internal/detect"
)

// MemoryStore is an in-memory Store, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	marks  map[int]detect.Watermark
	writes int
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[int]detect.Watermark)}
}

func (m *MemoryStore) Read(_ context.Context, layerID int) (detect.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.marks[layerID]
	if !ok {
		return detect.Watermark{}, detect.ErrWatermarkNotFound
	}
	return w, nil
}

func (m *MemoryStore) Write(_ context.Context, layerID int, w detect.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.marks[layerID] = w
	m.writes++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, layerID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.marks, layerID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Writes returns how many times Write was called.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

var _ Store = (*MemoryStore)(nil)
