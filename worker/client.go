package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/tipsession"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
)

// Host-side budgets for worker requests. They sit above the worker's own
// operation budgets so the worker's answer, not this timeout, is the
// common outcome.
const (
	initRequestTimeout    = 90 * time.Second
	sendRequestTimeout    = 30 * time.Second
	historyRequestTimeout = 20 * time.Second
	warmupRequestTimeout  = 30 * time.Second
	debugRequestTimeout   = 5 * time.Second
)

// Client is the host-side proxy to a Worker at the other end of a frame
// transport. It shares the host's mux, so worker-originated frames
// (signRequest, firestoreSave) keep flowing while a request is pending.
type Client struct {
	mux *relay.Mux
}

// NewClient creates a proxy over the host mux.
func NewClient(mux *relay.Mux) *Client {
	return &Client{mux: mux}
}

// InitClient asks the worker to establish its messaging session.
func (c *Client) InitClient(ctx context.Context, address, kind string) (tipsession.Status, error) {
	var status tipsession.Status
	err := c.request(ctx, wire.ActionInitClient, InitRequest{Address: address, Kind: kind}, initRequestTimeout, &status)
	return status, err
}

// SendMessage asks the worker to deliver content to the peer.
func (c *Client) SendMessage(ctx context.Context, peerID, content string) (SendResponse, error) {
	var resp SendResponse
	err := c.request(ctx, wire.ActionSendMessage, SendRequest{PeerID: peerID, Content: content}, sendRequestTimeout, &resp)
	return resp, err
}

// History fetches the worker's merged conversation history.
func (c *Client) History(ctx context.Context) ([]message.Envelope, error) {
	var resp HistoryResponse
	if err := c.request(ctx, wire.ActionGetHistory, struct{}{}, historyRequestTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Warmup asks the worker to pre-establish a conversation.
func (c *Client) Warmup(ctx context.Context, peerID string) (tipsession.WarmupResult, error) {
	var res tipsession.WarmupResult
	err := c.request(ctx, wire.ActionWarmupConversation, WarmupRequest{PeerID: peerID}, warmupRequestTimeout, &res)
	return res, err
}

// Debug fetches the worker's state snapshot.
func (c *Client) Debug(ctx context.Context) (tipsession.Status, error) {
	var status tipsession.Status
	err := c.request(ctx, wire.ActionDebugClient, struct{}{}, debugRequestTimeout, &status)
	return status, err
}

func (c *Client) request(ctx context.Context, action wire.Action, payload interface{}, timeout time.Duration, out interface{}) error {
	frame, err := wire.NewRequest(action, payload)
	if err != nil {
		return err
	}

	resp, err := c.mux.Request(ctx, frame, timeout)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s failed: %s", action, resp.Error)
	}
	return resp.Decode(out)
}
