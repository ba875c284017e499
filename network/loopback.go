package network

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/message"
)

// Loopback is an in-process messaging network used by the demo CLI and by
// tests. Messages are delivered into per-conversation memory and echoed
// back through history listing. An optional latency simulates the real
// network's handshake and negotiation delays.
type Loopback struct {
	mu       sync.Mutex
	latency  time.Duration
	sessions int
}

// NewLoopback creates an in-process messaging network.
func NewLoopback(latency time.Duration) *Loopback {
	return &Loopback{latency: latency}
}

// Establish implements Dialer.
func (l *Loopback) Establish(ctx context.Context, ident identity.Identity, opts EstablishOptions) (Session, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.sessions++
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"address": ident.Address,
		"storage": opts.Storage.String(),
	}).Debug("loopback session established")

	return &loopbackSession{
		owner:   l,
		address: ident.Address,
		convs:   make(map[string]*loopbackConversation),
	}, nil
}

// Sessions returns how many sessions have been established, for tests and
// the demo CLI's status output.
func (l *Loopback) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions
}

func (l *Loopback) wait(ctx context.Context) error {
	if l.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(l.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopbackSession struct {
	mu      sync.Mutex
	owner   *Loopback
	address string
	convs   map[string]*loopbackConversation
	closed  bool
}

func (s *loopbackSession) NewConversation(ctx context.Context, peerID string) (Conversation, error) {
	if err := s.owner.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}

	key := strings.ToLower(peerID)
	if conv, ok := s.convs[key]; ok {
		return conv, nil
	}
	conv := &loopbackConversation{
		owner:  s.owner,
		local:  s.address,
		peer:   peerID,
		active: time.Now(),
	}
	s.convs[key] = conv
	return conv, nil
}

func (s *loopbackSession) ListConversations(ctx context.Context) ([]Conversation, error) {
	if err := s.owner.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}

	convs := make([]*loopbackConversation, 0, len(s.convs))
	for _, c := range s.convs {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].lastActive().After(convs[j].lastActive())
	})

	out := make([]Conversation, len(convs))
	for i, c := range convs {
		out[i] = c
	}
	return out, nil
}

func (s *loopbackSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type loopbackConversation struct {
	mu     sync.Mutex
	owner  *Loopback
	local  string
	peer   string
	sent   []message.Envelope
	active time.Time
}

func (c *loopbackConversation) PeerID() string { return c.peer }

func (c *loopbackConversation) Send(ctx context.Context, content string) (message.Envelope, error) {
	if err := c.owner.wait(ctx); err != nil {
		return message.Envelope{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	env := message.Envelope{
		ConversationID: fmt.Sprintf("loopback:%s:%s", strings.ToLower(c.local), strings.ToLower(c.peer)),
		SenderID:       c.local,
		RecipientID:    c.peer,
		Content:        content,
		SentAt:         time.Now(),
		MessageID:      uuid.NewString(),
	}
	c.sent = append(c.sent, env)
	c.active = env.SentAt
	return env, nil
}

func (c *loopbackConversation) Messages(ctx context.Context, limit int) ([]message.Envelope, error) {
	if err := c.owner.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.sent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]message.Envelope, 0, n)
	for i := len(c.sent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.sent[i])
	}
	return out, nil
}

func (c *loopbackConversation) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
