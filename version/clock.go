package version

import (
	"sync"
	"time"
)

// Clock issues strictly increasing versions. A version is the wall clock in
// nanoseconds unless the clock has already issued or observed something later, in
// which case it is that value plus one. Versions from different clocks compare
// roughly by wall time, which is all newest-version-wins needs.
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewClock returns a Clock on time.Now.
func NewClock() *Clock { return &Clock{now: time.Now} }

// Next returns a version greater than every version issued or observed so far.
func (c *Clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	if now == nil {
		now = time.Now
	}
	v := uint64(now().UnixNano())
	if v <= c.last {
		v = c.last + 1
	}
	c.last = v
	return v
}

// Observe moves the clock past v, so later local writes win over it.
func (c *Clock) Observe(v uint64) {
	c.mu.Lock()
	if v > c.last {
		c.last = v
	}
	c.mu.Unlock()
}
