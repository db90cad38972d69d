// Package txcounter provides the process-wide, monotonically
// increasing transaction id generator. It is constructed once and
// passed in explicitly rather than kept as package-level state, so
// each test can construct its own.
package txcounter

import "sync/atomic"

// Counter issues unique, strictly increasing transaction ids starting
// at 1.
type Counter struct {
	next int64
}

// New returns a Counter whose first Next() call returns 1.
func New() *Counter {
	return &Counter{next: 0}
}

// Next atomically returns the next transaction id.
func (c *Counter) Next() int {
	return int(atomic.AddInt64(&c.next, 1))
}
