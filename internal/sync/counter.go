package sync

import (
	stdsync "sync"
)

// foundCounter tracks consecutive assets whose every file was already on
// disk. Workers report through it concurrently; the producer polls it
// before handing out the next asset.
type foundCounter struct {
	limit int64

	mu  stdsync.Mutex
	run int64
}

func (c *foundCounter) increment() {
	c.mu.Lock()
	c.run++
	c.mu.Unlock()
}

// reset clears the run. Any fetched file breaks the streak, including the
// missing half of a live-photo pair.
func (c *foundCounter) reset() {
	c.mu.Lock()
	c.run = 0
	c.mu.Unlock()
}

func (c *foundCounter) reached() bool {
	if c.limit < 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.run >= c.limit
}
