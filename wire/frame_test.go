package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	f, err := NewRequest(ActionSendMessage, map[string]string{"peerId": "0xDEF"})
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, ActionSendMessage, f.Action)
	assert.False(t, f.IsResponse())

	var payload map[string]string
	require.NoError(t, f.Decode(&payload))
	assert.Equal(t, "0xDEF", payload["peerId"])
}

func TestResponseFrames(t *testing.T) {
	ok, err := OKResponse("req-1", map[string]bool{"done": true})
	require.NoError(t, err)
	assert.True(t, ok.IsResponse())
	assert.True(t, ok.Success)
	assert.Equal(t, "req-1", ok.ID)

	bad := ErrResponse("req-2", assert.AnError)
	assert.True(t, bad.IsResponse())
	assert.False(t, bad.Success)
	assert.NotEmpty(t, bad.Error)
}

func TestFrameName(t *testing.T) {
	assert.Equal(t, ActionSignRequest, Frame{Type: ActionSignRequest}.Name())
	assert.Equal(t, ActionGetHistory, Frame{Action: ActionGetHistory}.Name())
	assert.Equal(t, Action(""), Frame{}.Name())
}

func TestDecodeMissingPayload(t *testing.T) {
	f := Frame{ID: "x"}
	var v struct{}
	assert.Error(t, f.Decode(&v))
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe(4)

	f, err := NewRequest(ActionDebugClient, nil)
	require.NoError(t, err)
	require.NoError(t, a.Send(f))

	got := <-b.Frames()
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, ActionDebugClient, got.Action)

	// And the reverse direction.
	resp, err := OKResponse(f.ID, nil)
	require.NoError(t, err)
	require.NoError(t, b.Send(resp))

	back := <-a.Frames()
	assert.True(t, back.IsResponse())
	assert.Equal(t, f.ID, back.ID)
}

func TestPipeSendAfterClose(t *testing.T) {
	a, _ := Pipe(1)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(Frame{ID: "x"}), ErrTransportClosed)
	// Close is idempotent.
	assert.NoError(t, a.Close())
}

func TestPipeSendToClosedPeerWithFullBuffer(t *testing.T) {
	a, b := Pipe(1)
	require.NoError(t, a.Send(Frame{ID: "1"}))
	require.NoError(t, b.Close())

	// The buffer is full and the peer will never drain it; the send must
	// fail rather than block.
	done := make(chan error, 1)
	go func() { done <- a.Send(Frame{ID: "2"}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("send blocked on a closed peer")
	}
}
