// Package testutil holds deterministic stand-ins for the pipeline's
// collaborators: a settable clock, sequential run ids, an in-memory feature
// service and a ready-to-run config.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"detectedits-go/internal/detect"
)

// Epoch is the instant FixedClock starts at: 2024-01-15 10:30:00 UTC.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a detect.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ detect.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// StubIDGenerator hands out "<prefix>-1", "<prefix>-2", ... The default
// prefix is "id".
type StubIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

var _ detect.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{prefix: "id"}
}

func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
