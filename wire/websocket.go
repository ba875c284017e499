package wire

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketTransport carries frames over a websocket connection, for
// deployments where the host and the isolated context run in separate
// processes. Frame semantics are identical to the in-process pipe.
type WebSocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	in      chan Frame
	closed  sync.Once
}

// NewWebSocketTransport wraps an established websocket connection and
// starts its read loop. The caller owns the connection's lifetime through
// Close.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn: conn,
		in:   make(chan Frame, 16),
	}
	go t.readLoop()
	return t
}

// DialWebSocket connects to a remote frame endpoint.
func DialWebSocket(ctx context.Context, url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial frame endpoint %s: %w", url, err)
	}
	return NewWebSocketTransport(conn), nil
}

// UpgradeWebSocket upgrades an HTTP request into a frame transport.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketTransport, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade frame endpoint: %w", err)
	}
	return NewWebSocketTransport(conn), nil
}

// Send writes a frame to the peer. Safe for concurrent use.
func (t *WebSocketTransport) Send(f Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Frames returns the inbound frame channel. The channel closes when the
// connection drops.
func (t *WebSocketTransport) Frames() <-chan Frame {
	return t.in
}

// Close shuts down the connection.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

func (t *WebSocketTransport) readLoop() {
	defer t.closed.Do(func() { close(t.in) })

	for {
		var f Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("frame transport read loop ended")
			}
			return
		}
		t.in <- f
	}
}
