package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var nameCounter atomic.Int64

// UniqueName returns a process-unique name derived from a test name.
func UniqueName(prefix, testName string) string {
	return fmt.Sprintf("%s-%s-%d", prefix, strings.ReplaceAll(testName, "/", "-"), nameCounter.Add(1))
}
