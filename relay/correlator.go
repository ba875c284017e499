// Package relay implements the request/response channel across the
// isolation boundary. The isolated context cannot hold the wallet signer
// or the durable mirror directly; it sends correlated request frames and
// resolves the matching promise when a response frame arrives.
package relay

import (
	"sync"

	"github.com/opd-ai/tipsession/wire"
)

// Correlator tracks pending request frames by correlation id and
// guarantees at most one resolution per id: the first response wins, later
// duplicates and responses for abandoned ids are ignored.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan wire.Frame
}

// NewCorrelator creates an empty pending-request map.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan wire.Frame)}
}

// Register returns a channel that receives the response for id. The entry
// must be released with Cancel if the caller gives up waiting, so a late
// response cannot leak the pending entry.
func (c *Correlator) Register(id string) <-chan wire.Frame {
	ch := make(chan wire.Frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

// Cancel purges a pending entry. Responses arriving afterwards are treated
// as stale.
func (c *Correlator) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Resolve delivers a response frame to its waiter. It reports false for
// ids no longer tracked, which callers log and ignore.
func (c *Correlator) Resolve(f wire.Frame) bool {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- f
	return true
}

// Pending returns the number of tracked requests, for tests and debug
// output.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
