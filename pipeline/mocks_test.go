package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/network"
)

// scriptedConversation fails the first `failures` sends with the given
// error, then succeeds, recording the time of each attempt.
type scriptedConversation struct {
	mu       sync.Mutex
	peer     string
	failures int
	err      error
	calls    int
	times    []time.Time
}

func (c *scriptedConversation) PeerID() string { return c.peer }

func (c *scriptedConversation) Send(ctx context.Context, content string) (message.Envelope, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.times = append(c.times, time.Now())
	failures, err := c.failures, c.err
	c.mu.Unlock()

	if call <= failures {
		return message.Envelope{}, err
	}
	return message.Envelope{
		ConversationID: "conv-" + c.peer,
		Content:        content,
		SentAt:         time.Now(),
		MessageID:      fmt.Sprintf("msg-%d", call),
	}, nil
}

func (c *scriptedConversation) Messages(ctx context.Context, limit int) ([]message.Envelope, error) {
	return nil, nil
}

func (c *scriptedConversation) sendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedConversation) sendTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.times))
	copy(out, c.times)
	return out
}

// scriptedSession hands out one scripted conversation per peer.
type scriptedSession struct {
	mu    sync.Mutex
	convs map[string]*scriptedConversation
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{convs: make(map[string]*scriptedConversation)}
}

// scriptPeer pre-registers the conversation returned for a peer.
func (s *scriptedSession) scriptPeer(peer string, failures int, err error) *scriptedConversation {
	conv := &scriptedConversation{peer: peer, failures: failures, err: err}
	s.mu.Lock()
	s.convs[peer] = conv
	s.mu.Unlock()
	return conv
}

func (s *scriptedSession) NewConversation(ctx context.Context, peerID string) (network.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[peerID]; ok {
		return conv, nil
	}
	conv := &scriptedConversation{peer: peerID}
	s.convs[peerID] = conv
	return conv, nil
}

func (s *scriptedSession) ListConversations(ctx context.Context) ([]network.Conversation, error) {
	return nil, nil
}

func (s *scriptedSession) Close() error { return nil }

type scriptedDialer struct {
	sess network.Session
}

func (d *scriptedDialer) Establish(ctx context.Context, ident identity.Identity, opts network.EstablishOptions) (network.Session, error) {
	return d.sess, nil
}
