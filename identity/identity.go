// Package identity models the cryptographic presence of one user: an
// address-style identifier, an asynchronous signer, and an account kind
// distinguishing externally-owned accounts from contract-based wallets.
//
// Contract-based wallets sign through an on-chain round trip and are
// granted longer timeouts throughout the system.
package identity

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes account types with different signing and latency
// characteristics.
type Kind uint8

const (
	// KindExternallyOwned is a plain key-holding account.
	KindExternallyOwned Kind = iota
	// KindContractWallet is a smart-contract wallet; signing is slower and
	// signature encodings may be non-standard.
	KindContractWallet
)

// String returns the wire name of the account kind.
func (k Kind) String() string {
	switch k {
	case KindContractWallet:
		return "contract"
	default:
		return "eoa"
	}
}

// ParseKind maps a wire name back to a Kind. Unknown names default to
// the externally-owned kind.
func ParseKind(s string) Kind {
	if strings.EqualFold(strings.TrimSpace(s), "contract") {
		return KindContractWallet
	}
	return KindExternallyOwned
}

// Signer produces a signature for a message. Implementations may cross an
// isolation boundary; all calls are bounded by the caller's context.
type Signer interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	Address() string
}

// Identity is the capability bundle for one connection attempt. It is
// immutable for the life of the session it establishes.
type Identity struct {
	Address string
	Kind    Kind
	Signer  Signer
}

// New creates an Identity for the given address, account kind and signer.
func New(address string, kind Kind, signer Signer) Identity {
	logrus.WithFields(logrus.Fields{
		"address": address,
		"kind":    kind.String(),
	}).Debug("creating identity")

	return Identity{
		Address: address,
		Kind:    kind,
		Signer:  signer,
	}
}

// SameAddress reports whether this identity refers to the given address,
// ignoring hex casing.
func (i Identity) SameAddress(address string) bool {
	return strings.EqualFold(i.Address, address)
}
