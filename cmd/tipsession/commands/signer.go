package commands

import (
	"context"

	"golang.org/x/crypto/sha3"

	"github.com/opd-ai/tipsession/identity"
)

// demoSigner derives a deterministic 65-byte pseudo-signature from the
// message digest. It stands in for the wallet provider on the host side of
// the demo rig.
type demoSigner struct {
	address string
}

func newDemoSigner(address string) *demoSigner {
	return &demoSigner{address: address}
}

func (s *demoSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(s.address))
	h.Write(message)
	digest := h.Sum(nil)

	sig := make([]byte, identity.SignatureLength)
	copy(sig, digest)
	copy(sig[32:], digest)
	sig[64] = 27
	return sig, nil
}

func (s *demoSigner) Address() string {
	return s.address
}
