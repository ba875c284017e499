// Package host runs the main-context side of the isolation boundary: it
// answers the worker's signature requests with the wallet signer and
// services its mirror traffic against the durable store. Neither the
// signer nor the store ever crosses the boundary.
package host

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
)

// Responder registers host-side handlers on a mux.
type Responder struct {
	mux    *relay.Mux
	signer identity.Signer
	store  mirror.Store
	log    *logrus.Entry
}

// NewResponder wires the signer and mirror store into the host mux. The
// mux may be shared with a worker.Client so both directions flow over one
// transport.
func NewResponder(mux *relay.Mux, signer identity.Signer, store mirror.Store) *Responder {
	r := &Responder{
		mux:    mux,
		signer: signer,
		store:  store,
		log:    logrus.WithField("component", "host.responder"),
	}

	mux.Handle(wire.ActionSignRequest, r.handleSignRequest)
	mux.Handle(wire.ActionMirrorSave, r.handleMirrorSave)
	mux.Handle(wire.ActionMirrorQuery, r.handleMirrorQuery)
	return r
}

// Run processes frames until the context ends or the transport closes.
func (r *Responder) Run(ctx context.Context) error {
	return r.mux.Run(ctx)
}

// handleSignRequest produces a signature for the worker. The signature is
// normalized to the standard 65-byte form when possible; a failed
// normalization still returns the raw bytes with a logged warning, since
// some wallets are usable despite non-standard encodings.
func (r *Responder) handleSignRequest(ctx context.Context, f wire.Frame) {
	var req relay.SignRequest
	if err := f.Decode(&req); err != nil {
		r.reply(wire.ErrResponse(f.ID, err))
		return
	}

	sig, err := r.signer.SignMessage(ctx, req.Message)
	if err != nil {
		r.log.WithError(err).WithField("id", f.ID).Warn("wallet signer failed")
		r.reply(wire.ErrResponse(f.ID, err))
		return
	}

	normalized, err := identity.NormalizeSignature(sig)
	if err != nil {
		r.log.WithError(err).Warn("signature normalization failed, forwarding raw signature")
		normalized = sig
	}

	frame, err := wire.OKResponse(f.ID, relay.SignResponse{Signature: normalized})
	if err != nil {
		frame = wire.ErrResponse(f.ID, err)
	}
	r.reply(frame)
}

// handleMirrorSave persists a record best-effort. The frame is one-way:
// failures are logged and absorbed, never reported to the worker.
func (r *Responder) handleMirrorSave(ctx context.Context, f wire.Frame) {
	var rec mirror.Record
	if err := f.Decode(&rec); err != nil {
		r.log.WithError(err).Warn("dropping malformed mirror record")
		return
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		r.log.WithError(err).WithField("record", rec.ID).Warn("mirror write failed")
	}
}

func (r *Responder) handleMirrorQuery(ctx context.Context, f wire.Frame) {
	var filter mirror.Filter
	if err := f.Decode(&filter); err != nil {
		r.reply(wire.ErrResponse(f.ID, err))
		return
	}

	records, err := r.store.Query(ctx, filter)
	if err != nil {
		r.reply(wire.ErrResponse(f.ID, err))
		return
	}

	frame, err := wire.OKResponse(f.ID, mirror.QueryResponse{Records: records})
	if err != nil {
		frame = wire.ErrResponse(f.ID, err)
	}
	r.reply(frame)
}

func (r *Responder) reply(f wire.Frame) {
	if err := r.mux.Send(f); err != nil {
		r.log.WithError(err).WithField("id", f.ID).Warn("failed to send response frame")
	}
}
