package session

import (
	"context"
	"sync"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/network"
)

// mockSession is a minimal network.Session for client tests.
type mockSession struct {
	mu     sync.Mutex
	closed bool
}

func (m *mockSession) NewConversation(ctx context.Context, peerID string) (network.Conversation, error) {
	return nil, nil
}

func (m *mockSession) ListConversations(ctx context.Context) ([]network.Conversation, error) {
	return nil, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockDialer scripts establishment outcomes per call and records the
// storage modes it was asked for.
type mockDialer struct {
	mu      sync.Mutex
	calls   int
	modes   []network.StorageMode
	outcome func(call int, opts network.EstablishOptions) (network.Session, error)
}

func (m *mockDialer) Establish(ctx context.Context, ident identity.Identity, opts network.EstablishOptions) (network.Session, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.modes = append(m.modes, opts.Storage)
	outcome := m.outcome
	m.mu.Unlock()

	if outcome == nil {
		return &mockSession{}, nil
	}
	return outcome(call, opts)
}

func (m *mockDialer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockDialer) seenModes() []network.StorageMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]network.StorageMode, len(m.modes))
	copy(out, m.modes)
	return out
}

// testIdentity builds an identity without a usable signer; the mock dialer
// never signs.
func testIdentity(address string, kind identity.Kind) identity.Identity {
	return identity.New(address, kind, nil)
}
