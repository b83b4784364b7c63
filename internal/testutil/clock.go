package testutil

import (
	"sync"
	"time"

	"github.com/roach88/oplog/internal/model"
)

// Epoch is the first timestamp handed out by a DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock hands out entry timestamps one millisecond apart,
// starting at Epoch. Golden traces stay byte-identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu sync.Mutex
	n  int64
}

// NewDeterministicClock creates a clock whose first stamp is Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next returns the next stamp and advances the clock.
func (c *DeterministicClock) Next() model.Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := model.Stamp{Timestamp: Epoch.Add(time.Duration(c.n) * time.Millisecond)}
	c.n++
	return s
}

// Count returns how many stamps were handed out.
func (c *DeterministicClock) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset restarts the clock at Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
