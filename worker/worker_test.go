package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/host"
	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
)

// hostSigner is the wallet signer living on the host side of the
// boundary. It records every message it was asked to sign.
type hostSigner struct {
	mu       sync.Mutex
	address  string
	err      error
	messages [][]byte
}

func (s *hostSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	s.mu.Lock()
	s.messages = append(s.messages, append([]byte(nil), message...))
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	sig := bytes.Repeat([]byte{0x11}, identity.SignatureLength-1)
	return append(sig, 27), nil
}

func (s *hostSigner) Address() string { return s.address }

func (s *hostSigner) signedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// signingDialer authenticates the session by signing a challenge through
// the identity's signer before delegating to the inner network. With a
// relay-backed signer this exercises the full cross-boundary round trip.
type signingDialer struct {
	inner network.Dialer
}

func (d *signingDialer) Establish(ctx context.Context, ident identity.Identity, opts network.EstablishOptions) (network.Session, error) {
	if ident.Signer == nil {
		return nil, errors.New("identity has no signer")
	}
	challenge := []byte("session-auth:" + ident.Address)
	sig, err := ident.Signer.SignMessage(ctx, challenge)
	if err != nil {
		return nil, err
	}
	if len(sig) != identity.SignatureLength {
		return nil, errors.New("challenge signature has unexpected length")
	}
	return d.inner.Establish(ctx, ident, opts)
}

type testRig struct {
	client  *Client
	worker  *Worker
	hostMux *relay.Mux
	signer  *hostSigner
	store   *mirror.MemoryStore
}

// newTestRig assembles both sides of the boundary over an in-process
// pipe and starts their frame loops.
func newTestRig(t *testing.T) *testRig {
	t.Helper()

	hostEnd, workerEnd := wire.Pipe(16)
	signer := &hostSigner{address: "0xABC"}
	store := mirror.NewMemoryStore()

	hostMux := relay.NewMux(hostEnd)
	host.NewResponder(hostMux, signer, store)

	w := New(workerEnd, &signingDialer{inner: network.NewLoopback(0)}, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hostMux.Run(ctx)
	go w.Run(ctx)

	return &testRig{
		client:  NewClient(hostMux),
		worker:  w,
		hostMux: hostMux,
		signer:  signer,
		store:   store,
	}
}

func (r *testRig) initialized(t *testing.T) *testRig {
	t.Helper()
	status, err := r.client.InitClient(context.Background(), "0xABC", "eoa")
	require.NoError(t, err)
	require.Equal(t, "connected", status.Connected)
	return r
}

func TestInitClientSignsAcrossBoundary(t *testing.T) {
	rig := newTestRig(t)

	status, err := rig.client.InitClient(context.Background(), "0xABC", "eoa")
	require.NoError(t, err)
	assert.Equal(t, "connected", status.Connected)
	assert.Equal(t, "0xABC", status.Address)
	assert.Equal(t, 1, rig.signer.signedCount(), "establishment must route its challenge to the host signer")
	assert.True(t, rig.worker.Messenger().IsConnected())
}

func TestInitClientSurfacesSignerFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.signer.err = errors.New("user rejected the request")

	_, err := rig.client.InitClient(context.Background(), "0xABC", "eoa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user rejected")
	assert.False(t, rig.worker.Messenger().IsConnected())
}

func TestSendMessageMirrorsToHostStore(t *testing.T) {
	rig := newTestRig(t).initialized(t)

	resp, err := rig.client.SendMessage(context.Background(), "0xDEF", "hello over the pipe")
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.NotEmpty(t, resp.MessageID)
	assert.Empty(t, resp.Error)

	// The mirror write is detached: the host store fills in shortly after
	// the response.
	require.Eventually(t, func() bool { return rig.store.Len() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestHistoryQueriesHostMirror(t *testing.T) {
	rig := newTestRig(t).initialized(t)

	resp, err := rig.client.SendMessage(context.Background(), "0xDEF", "hello over the pipe")
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Eventually(t, func() bool {
		msgs, err := rig.client.History(context.Background())
		return err == nil && len(msgs) == 1 && msgs[0].Content == "hello over the pipe"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSendBeforeInitReportsNotConnected(t *testing.T) {
	rig := newTestRig(t)

	resp, err := rig.client.SendMessage(context.Background(), "0xDEF", "hello")
	require.NoError(t, err, "the frame round trip itself succeeds")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not connected")
}

func TestWarmupThenCached(t *testing.T) {
	rig := newTestRig(t).initialized(t)
	ctx := context.Background()

	res, err := rig.client.Warmup(ctx, "0xDEF")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Cached)

	res, err = rig.client.Warmup(ctx, "0xDEF")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Cached)
}

func TestPerformWarmupAliasRoutesToWarmup(t *testing.T) {
	rig := newTestRig(t).initialized(t)

	frame, err := wire.NewRequest(wire.ActionPerformWarmup, WarmupRequest{PeerID: "0xDEF"})
	require.NoError(t, err)

	resp, err := rig.hostMux.Request(context.Background(), frame, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.True(t, rig.worker.Messenger().WarmupConversation(context.Background(), "0xDEF").Cached)
}

func TestDebugClient(t *testing.T) {
	rig := newTestRig(t)

	status, err := rig.client.Debug(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disconnected", status.Connected)

	rig.initialized(t)
	status, err = rig.client.Debug(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", status.Connected)
}

func TestMalformedPayloadReturnsError(t *testing.T) {
	rig := newTestRig(t)

	frame := wire.Frame{ID: "req-1", Action: wire.ActionInitClient}
	resp, err := rig.hostMux.Request(context.Background(), frame, 5*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Error)
}
