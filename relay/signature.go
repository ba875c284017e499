package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/wire"
)

// Signature request budgets. Contract wallets sign through an on-chain
// round trip and get the longer budget.
const (
	SignTimeoutExternallyOwned = 20 * time.Second
	SignTimeoutContractWallet  = 30 * time.Second
)

// ErrSignatureTimeout is returned when the host context does not produce a
// signature within the per-request budget.
var ErrSignatureTimeout = errors.New("signature request timed out")

// SignRequest is the payload of a signRequest frame.
type SignRequest struct {
	Message []byte `json:"message"`
}

// SignResponse is the payload answering a signRequest frame.
type SignResponse struct {
	Signature []byte `json:"signature"`
}

// SignatureRelay lets the isolated context ask the host context for
// signatures. The signer object itself never crosses the boundary; only
// the message payload does, correlated by request id.
type SignatureRelay struct {
	mux             *Mux
	eoaTimeout      time.Duration
	contractTimeout time.Duration
	log             *logrus.Entry
}

// NewSignatureRelay creates a relay over the given mux with the standard
// per-kind budgets.
func NewSignatureRelay(mux *Mux) *SignatureRelay {
	return NewSignatureRelayWithBudgets(mux, SignTimeoutExternallyOwned, SignTimeoutContractWallet)
}

// NewSignatureRelayWithBudgets creates a relay with custom per-kind
// budgets, mainly for tests.
func NewSignatureRelayWithBudgets(mux *Mux, eoa, contract time.Duration) *SignatureRelay {
	return &SignatureRelay{
		mux:             mux,
		eoaTimeout:      eoa,
		contractTimeout: contract,
		log:             logrus.WithField("component", "relay.signature"),
	}
}

// RequestSignature sends exactly one signRequest frame and waits for the
// matching response. The budget depends on the account kind; on timeout
// the pending entry is purged and ErrSignatureTimeout is returned.
func (r *SignatureRelay) RequestSignature(ctx context.Context, message []byte, kind identity.Kind) ([]byte, error) {
	frame, err := wire.NewEvent(wire.ActionSignRequest, SignRequest{Message: message})
	if err != nil {
		return nil, err
	}

	timeout := r.eoaTimeout
	if kind == identity.KindContractWallet {
		timeout = r.contractTimeout
	}

	r.log.WithFields(logrus.Fields{
		"id":      frame.ID,
		"kind":    kind.String(),
		"timeout": timeout,
	}).Debug("requesting signature from host context")

	resp, err := r.mux.Request(ctx, frame, timeout)
	if err != nil {
		if errors.Is(err, ErrRequestTimeout) {
			return nil, fmt.Errorf("signer did not respond within %v: %w", timeout, ErrSignatureTimeout)
		}
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("host signer failed: %s", resp.Error)
	}

	var payload SignResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Signature, nil
}

// Signer adapts the relay to the identity.Signer interface for a given
// address and account kind.
type Signer struct {
	relay   *SignatureRelay
	address string
	kind    identity.Kind
}

// NewSigner creates a relay-backed signer.
func NewSigner(relay *SignatureRelay, address string, kind identity.Kind) *Signer {
	return &Signer{relay: relay, address: address, kind: kind}
}

// SignMessage implements identity.Signer.
func (s *Signer) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return s.relay.RequestSignature(ctx, message, s.kind)
}

// Address implements identity.Signer.
func (s *Signer) Address() string {
	return s.address
}
