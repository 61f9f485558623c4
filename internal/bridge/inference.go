package bridge

import "github.com/dense-identity/callsync/internal/telecom"

// inferenceCapacity bounds the cache: a merge joins exactly two calls.
const inferenceCapacity = 2

// inferredCall remembers a call removed with cause "other", which is how calls
// disappear when they are merged into a conference.
type inferredCall struct {
	id       telecom.CallID
	index    int
	handle   string
	address  string
	incoming bool
}

// inferenceCache is a FIFO of the most recent inferred calls.
type inferenceCache struct {
	entries []inferredCall
}

func (c *inferenceCache) push(ic inferredCall) {
	c.entries = append(c.entries, ic)
	if len(c.entries) > inferenceCapacity {
		c.entries = append(c.entries[:0:0], c.entries[len(c.entries)-inferenceCapacity:]...)
	}
}

func (c *inferenceCache) flush() { c.entries = nil }

func (c *inferenceCache) len() int { return len(c.entries) }
