// Package conversation caches negotiated conversations per peer so
// repeated sends skip session negotiation latency. Concurrent requests for
// the same uncached peer collapse into a single negotiation.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/session"
)

// Negotiation budgets before profile scaling. The first negotiation on a
// session is slower because of device sync; warmup runs off the critical
// path and can afford the longest wait.
const (
	FirstNegotiationTimeout      = 15 * time.Second
	SubsequentNegotiationTimeout = 8 * time.Second
	WarmupNegotiationTimeout     = 25 * time.Second
)

// negotiation tracks one in-flight conversation creation so concurrent
// GetOrCreate calls for the same peer share its outcome.
type negotiation struct {
	done chan struct{}
	conv network.Conversation
	err  error
}

// Cache maps a case-normalized peer identifier to its established
// conversation. Entries live until the session is torn down; Clear
// invalidates everything at once.
type Cache struct {
	mu        sync.Mutex
	client    *session.Client
	profile   config.DeploymentProfile
	entries   map[string]network.Conversation
	inflight  map[string]*negotiation
	firstDone bool
	log       *logrus.Entry
}

// NewCache creates an empty cache bound to the session client.
func NewCache(client *session.Client, profile config.DeploymentProfile) *Cache {
	return &Cache{
		client:   client,
		profile:  profile,
		entries:  make(map[string]network.Conversation),
		inflight: make(map[string]*negotiation),
		log:      logrus.WithField("component", "conversation.cache"),
	}
}

// Get returns the cached conversation for the peer, if any.
func (c *Cache) Get(peerID string) (network.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.entries[normalize(peerID)]
	return conv, ok
}

// Has reports whether a conversation for the peer is cached.
func (c *Cache) Has(peerID string) bool {
	_, ok := c.Get(peerID)
	return ok
}

// GetOrCreate returns the cached conversation for the peer or negotiates a
// new one, bounded by the tiered negotiation timeout.
func (c *Cache) GetOrCreate(ctx context.Context, peerID string) (network.Conversation, error) {
	return c.getOrCreate(ctx, peerID, 0)
}

// GetOrCreateWithTimeout is GetOrCreate with an explicit negotiation
// budget, used by warmup.
func (c *Cache) GetOrCreateWithTimeout(ctx context.Context, peerID string, timeout time.Duration) (network.Conversation, error) {
	return c.getOrCreate(ctx, peerID, timeout)
}

func (c *Cache) getOrCreate(ctx context.Context, peerID string, timeout time.Duration) (network.Conversation, error) {
	key := normalize(peerID)

	c.mu.Lock()
	if conv, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return conv, nil
	}
	if pending, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return awaitNegotiation(ctx, pending)
	}
	pending := &negotiation{done: make(chan struct{})}
	c.inflight[key] = pending
	if timeout <= 0 {
		timeout = FirstNegotiationTimeout
		if c.firstDone {
			timeout = SubsequentNegotiationTimeout
		}
	}
	c.mu.Unlock()

	conv, err := c.negotiate(ctx, peerID, c.profile.Scale(timeout))

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = conv
		c.firstDone = true
	}
	c.mu.Unlock()

	pending.conv = conv
	pending.err = err
	close(pending.done)
	return conv, err
}

func (c *Cache) negotiate(ctx context.Context, peerID string, timeout time.Duration) (network.Conversation, error) {
	sess, err := c.client.Session()
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"peer":    peerID,
		"timeout": timeout,
	}).Debug("negotiating conversation")

	negCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conv, err := sess.NewConversation(negCtx, peerID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// awaitNegotiation blocks until the shared negotiation settles or the
// caller's context ends.
func awaitNegotiation(ctx context.Context, pending *negotiation) (network.Conversation, error) {
	select {
	case <-pending.done:
		return pending.conv, pending.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear invalidates every cached conversation. Called when the session is
// torn down: a conversation never outlives the session it was negotiated
// on.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]network.Conversation)
	c.firstDone = false
	c.mu.Unlock()

	if n > 0 {
		c.log.WithField("evicted", n).Debug("conversation cache cleared")
	}
}

func normalize(peerID string) string {
	return strings.ToLower(strings.TrimSpace(peerID))
}
