// Package worker hosts the messaging session inside the isolated
// execution context. It dispatches inbound action frames from the host to
// the facade, and reaches back across the boundary for signatures and
// mirror access.
package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession"
	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
)

// InitRequest is the payload of an initClient frame.
type InitRequest struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
}

// SendRequest is the payload of a sendMessage frame.
type SendRequest struct {
	PeerID  string `json:"peerId"`
	Content string `json:"content"`
}

// SendResponse mirrors pipeline.Result across the boundary.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HistoryResponse is the payload answering a getHistory frame.
type HistoryResponse struct {
	Messages []message.Envelope `json:"messages"`
}

// WarmupRequest is the payload of warmupConversation and performWarmup
// frames.
type WarmupRequest struct {
	PeerID string `json:"peerId"`
}

// Worker wires the facade into the cross-context frame channel.
type Worker struct {
	mux       *relay.Mux
	signature *relay.SignatureRelay
	messenger *tipsession.Messenger
	log       *logrus.Entry
}

// New builds the isolated context over the transport: a mux for frame
// routing, a relay-backed signer and mirror, and the messenger on top of
// the given network dialer.
func New(transport wire.Transport, dialer network.Dialer, profile config.DeploymentProfile) *Worker {
	mux := relay.NewMux(transport)
	w := &Worker{
		mux:       mux,
		signature: relay.NewSignatureRelay(mux),
		messenger: tipsession.New(dialer, mirror.NewRemoteStore(mux), profile),
		log:       logrus.WithField("component", "worker"),
	}

	mux.Handle(wire.ActionInitClient, w.handleInit)
	mux.Handle(wire.ActionSendMessage, w.handleSend)
	mux.Handle(wire.ActionGetHistory, w.handleHistory)
	mux.Handle(wire.ActionWarmupConversation, w.handleWarmup)
	// performWarmup is the legacy alias for the same operation.
	mux.Handle(wire.ActionPerformWarmup, w.handleWarmup)
	mux.Handle(wire.ActionDebugClient, w.handleDebug)

	return w
}

// Messenger exposes the underlying facade, mainly for tests.
func (w *Worker) Messenger() *tipsession.Messenger {
	return w.messenger
}

// Run processes frames until the context ends or the transport closes.
func (w *Worker) Run(ctx context.Context) error {
	return w.mux.Run(ctx)
}

func (w *Worker) handleInit(ctx context.Context, f wire.Frame) {
	var req InitRequest
	if err := f.Decode(&req); err != nil {
		w.reply(wire.ErrResponse(f.ID, err))
		return
	}

	kind := identity.ParseKind(req.Kind)
	signer := relay.NewSigner(w.signature, req.Address, kind)
	ident := identity.New(req.Address, kind, signer)

	if err := w.messenger.Connect(ctx, ident); err != nil {
		w.reply(wire.ErrResponse(f.ID, err))
		return
	}
	w.replyOK(f.ID, w.messenger.DebugStatus())
}

func (w *Worker) handleSend(ctx context.Context, f wire.Frame) {
	var req SendRequest
	if err := f.Decode(&req); err != nil {
		w.reply(wire.ErrResponse(f.ID, err))
		return
	}

	res := w.messenger.SendMessage(ctx, req.PeerID, req.Content)
	resp := SendResponse{
		Success:   res.Success,
		MessageID: res.MessageID,
		Warning:   res.Warning,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	w.replyOK(f.ID, resp)
}

func (w *Worker) handleHistory(ctx context.Context, f wire.Frame) {
	msgs := w.messenger.ConversationHistory(ctx)
	w.replyOK(f.ID, HistoryResponse{Messages: msgs})
}

func (w *Worker) handleWarmup(ctx context.Context, f wire.Frame) {
	var req WarmupRequest
	if err := f.Decode(&req); err != nil {
		w.reply(wire.ErrResponse(f.ID, err))
		return
	}
	w.replyOK(f.ID, w.messenger.WarmupConversation(ctx, req.PeerID))
}

func (w *Worker) handleDebug(ctx context.Context, f wire.Frame) {
	w.replyOK(f.ID, w.messenger.DebugStatus())
}

func (w *Worker) replyOK(id string, payload interface{}) {
	frame, err := wire.OKResponse(id, payload)
	if err != nil {
		frame = wire.ErrResponse(id, err)
	}
	w.reply(frame)
}

func (w *Worker) reply(f wire.Frame) {
	if err := w.mux.Send(f); err != nil {
		w.log.WithError(err).WithField("id", f.ID).Warn("failed to send response frame")
	}
}
