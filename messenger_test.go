package tipsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/session"
)

// fakeDialer scripts establishment outcomes per call.
type fakeDialer struct {
	mu      sync.Mutex
	calls   int
	outcome func(call int) (network.Session, error)
}

func (d *fakeDialer) Establish(ctx context.Context, ident identity.Identity, opts network.EstablishOptions) (network.Session, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	outcome := d.outcome
	d.mu.Unlock()

	if outcome == nil {
		return network.NewLoopback(0).Establish(ctx, ident, opts)
	}
	return outcome(call)
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// quickProfile keeps the failure-path cooldown in the millisecond range.
func quickProfile() config.DeploymentProfile {
	return config.DeploymentProfile{SupportsPersistentStorage: true, TimeoutMultiplier: 0.002}
}

func failingDialer() *fakeDialer {
	return &fakeDialer{outcome: func(call int) (network.Session, error) {
		return nil, errors.New("handshake rejected")
	}}
}

func ident(addr string) identity.Identity {
	return identity.New(addr, identity.KindExternallyOwned, nil)
}

func TestMessengerConnect(t *testing.T) {
	m := New(&fakeDialer{}, mirror.NewMemoryStore(), config.Default())
	require.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Connect(context.Background(), ident("0xABC")))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.IsConnected())
	assert.Equal(t, "0xABC", m.WalletAddress())
}

func TestMessengerConnectWhileConnectedIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	m := New(dialer, mirror.NewMemoryStore(), config.Default())

	require.NoError(t, m.Connect(context.Background(), ident("0xABC")))
	require.NoError(t, m.Connect(context.Background(), ident("0xABC")))
	assert.Equal(t, 1, dialer.callCount())
}

func TestMessengerAttemptCapBecomesSinkState(t *testing.T) {
	dialer := failingDialer()
	m := New(dialer, mirror.NewMemoryStore(), quickProfile())
	ctx := context.Background()

	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond) // wait out the scaled cooldown
	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond)

	err := m.Connect(ctx, ident("0xABC"))
	assert.ErrorIs(t, err, ErrMaxConnectAttempts)
	assert.Equal(t, MaxConnectAttempts, dialer.callCount(), "the cap must stop further establishment attempts")

	// The sink state persists across further calls.
	assert.ErrorIs(t, m.Connect(ctx, ident("0xABC")), ErrMaxConnectAttempts)
}

func TestMessengerCooldownAfterFailure(t *testing.T) {
	m := New(failingDialer(), mirror.NewMemoryStore(), quickProfile())
	ctx := context.Background()

	require.Error(t, m.Connect(ctx, ident("0xABC")))

	// An immediate follow-up lands inside the cooldown window.
	err := m.Connect(ctx, ident("0xABC"))
	assert.ErrorIs(t, err, ErrConnectCooldown)
}

func TestMessengerNewIdentityResetsAttempts(t *testing.T) {
	attempts := 0
	dialer := &fakeDialer{outcome: func(call int) (network.Session, error) {
		attempts++
		return nil, errors.New("handshake rejected")
	}}
	m := New(dialer, mirror.NewMemoryStore(), quickProfile())
	ctx := context.Background()

	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond)
	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond)
	require.ErrorIs(t, m.Connect(ctx, ident("0xABC")), ErrMaxConnectAttempts)

	// A different wallet is not burdened by the first wallet's failures.
	err := m.Connect(ctx, ident("0xDEF"))
	require.NotErrorIs(t, err, ErrMaxConnectAttempts)
	assert.Equal(t, 3, dialer.callCount())
}

func TestMessengerReconnectResetsAttempts(t *testing.T) {
	fail := true
	dialer := &fakeDialer{outcome: func(call int) (network.Session, error) {
		if fail {
			return nil, errors.New("handshake rejected")
		}
		return network.NewLoopback(0).Establish(context.Background(), ident("0xABC"), network.EstablishOptions{})
	}}
	m := New(dialer, mirror.NewMemoryStore(), quickProfile())
	ctx := context.Background()

	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond)
	require.Error(t, m.Connect(ctx, ident("0xABC")))
	time.Sleep(50 * time.Millisecond)
	require.ErrorIs(t, m.Connect(ctx, ident("0xABC")), ErrMaxConnectAttempts)

	fail = false
	require.NoError(t, m.Reconnect(ctx, ident("0xABC")))
	assert.True(t, m.IsConnected())
}

func TestMessengerDisconnect(t *testing.T) {
	m := New(&fakeDialer{}, mirror.NewMemoryStore(), config.Default())
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, ident("0xABC")))
	require.True(t, m.SendMessage(ctx, "0xDEF", "hi").Success)
	require.Equal(t, 1, m.DebugStatus().CachedConversations)

	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
	assert.Empty(t, m.WalletAddress())
	assert.Zero(t, m.DebugStatus().CachedConversations, "cached conversations must not outlive the session")

	// Disconnecting from disconnected is harmless.
	assert.NoError(t, m.Disconnect())
}

func TestMessengerDisconnectDuringConnectAbortsAttempt(t *testing.T) {
	release := make(chan struct{})
	dialer := &fakeDialer{outcome: func(call int) (network.Session, error) {
		if call == 0 {
			<-release
		}
		return network.NewLoopback(0).Establish(context.Background(), ident("0xABC"), network.EstablishOptions{})
	}}
	m := New(dialer, mirror.NewMemoryStore(), config.Default())

	connectErr := make(chan error, 1)
	go func() { connectErr <- m.Connect(context.Background(), ident("0xABC")) }()
	require.Eventually(t, m.IsConnecting, time.Second, 5*time.Millisecond)

	// Disconnect while establishment is parked; it blocks on the session
	// client until the attempt resolves.
	disconnectErr := make(chan error, 1)
	go func() { disconnectErr <- m.Disconnect() }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-disconnectErr)
	assert.ErrorIs(t, <-connectErr, ErrConnectAborted)

	// The disconnect sticks: the late completion must not resurrect the
	// facade into a half-connected state.
	assert.Equal(t, StateDisconnected, m.State())
	assert.False(t, m.IsConnected())
	res := m.SendMessage(context.Background(), "0xDEF", "hello")
	assert.ErrorIs(t, res.Err, ErrNotConnected)

	// A fresh connect performs a real establishment and works.
	require.NoError(t, m.Connect(context.Background(), ident("0xABC")))
	assert.True(t, m.IsConnected())
	assert.Equal(t, 2, dialer.callCount())
	assert.True(t, m.SendMessage(context.Background(), "0xDEF", "hello").Success)
}

func TestMessengerSendRequiresConnection(t *testing.T) {
	m := New(&fakeDialer{}, mirror.NewMemoryStore(), config.Default())

	res := m.SendMessage(context.Background(), "0xDEF", "hello")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotConnected)
}

func TestMessengerSendAndHistoryRoundTrip(t *testing.T) {
	store := mirror.NewMemoryStore()
	m := New(&fakeDialer{}, store, config.Default())
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, ident("0xABC")))

	res := m.SendMessage(ctx, "0xDEF", "hello there")
	require.True(t, res.Success)
	require.NoError(t, res.Err)

	// The mirror write detaches from the send; history sees it once it
	// lands.
	require.Eventually(t, func() bool {
		envs := m.ConversationHistory(ctx)
		return len(envs) == 1 && envs[0].Content == "hello there"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMessengerHistoryWithoutIdentityIsEmpty(t *testing.T) {
	m := New(&fakeDialer{}, mirror.NewMemoryStore(), config.Default())
	assert.Empty(t, m.ConversationHistory(context.Background()))
}

func TestMessengerConnectSurfacesClientErrors(t *testing.T) {
	dialer := &fakeDialer{outcome: func(call int) (network.Session, error) {
		return nil, errors.New("init failed: storage-access-denied")
	}}
	profile := config.DeploymentProfile{SupportsPersistentStorage: false, TimeoutMultiplier: 1.0}
	m := New(dialer, mirror.NewMemoryStore(), profile)

	err := m.Connect(context.Background(), ident("0xABC"))
	require.Error(t, err)
	assert.True(t, session.IsStorageError(err))
	// Both fallback tiers were tried before giving up.
	assert.Equal(t, 2, dialer.callCount())
}

func TestMessengerDebugStatus(t *testing.T) {
	m := New(&fakeDialer{}, mirror.NewMemoryStore(), config.Default())
	ctx := context.Background()

	status := m.DebugStatus()
	assert.Equal(t, "disconnected", status.Connected)
	assert.Equal(t, MaxConnectAttempts, status.RemainingAttempts)

	require.NoError(t, m.Connect(ctx, ident("0xABC")))
	require.True(t, m.SendMessage(ctx, "0xDEF", "hi").Success)

	status = m.DebugStatus()
	assert.Equal(t, "connected", status.Connected)
	assert.Equal(t, "0xABC", status.Address)
	assert.Equal(t, 1, status.CachedConversations)
}
