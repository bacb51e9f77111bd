package chat

import (
	"sync"
	"time"
)

// TimestampLayout is ISO-8601 with a fixed nine digit fraction, so that
// timestamps of one process also sort correctly as plain strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Clock issues strictly increasing message timestamps.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock returns a Clock backed by the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Next returns a timestamp later than any previously returned by c, even
// when the wall clock stalls or steps backwards.
func (c *Clock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t.Format(TimestampLayout)
}
