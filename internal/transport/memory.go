package transport

import (
	"context"
	"sync"

	"detectedits-go/internal/detect"
)

// MemoryTransport records messages instead of sending them. Messages whose
// position (1-based) is in FailOn are rejected with Err.
type MemoryTransport struct {
	mu       sync.Mutex
	messages []detect.Message
	attempts int

	FailOn map[int]bool
	Err    error
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{FailOn: make(map[int]bool)}
}

func (m *MemoryTransport) Name() string { return "memory" }

func (m *MemoryTransport) Send(_ context.Context, msg detect.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.FailOn[m.attempts] {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns the delivered messages in send order.
func (m *MemoryTransport) Messages() []detect.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]detect.Message(nil), m.messages...)
}

// Attempts returns the number of Send calls, including failed ones.
func (m *MemoryTransport) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *MemoryTransport) Close() error {
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
