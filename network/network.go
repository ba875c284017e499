// Package network defines the interfaces through which the session layer
// consumes the external messaging network. The network's wire protocol and
// cryptography are out of scope; implementations adapt a concrete client
// library (or a loopback fake) to these contracts.
package network

import (
	"context"

	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/message"
)

// StorageMode selects the persistence backend requested at session
// establishment. Restricted deployment environments forbid the durable
// backend and fall back through the ephemeral tiers.
type StorageMode uint8

const (
	// StorageDurable is the library default persistent backend.
	StorageDurable StorageMode = iota
	// StorageEphemeral disables persistence, keeping session state in memory.
	StorageEphemeral
	// StorageMinimal is the most stripped-down configuration: in-memory
	// state with device sync and local caches disabled.
	StorageMinimal
)

// String returns a human-readable storage mode name.
func (m StorageMode) String() string {
	switch m {
	case StorageEphemeral:
		return "ephemeral"
	case StorageMinimal:
		return "minimal"
	default:
		return "durable"
	}
}

// EstablishOptions configures one session establishment attempt.
type EstablishOptions struct {
	Storage StorageMode
}

// Dialer establishes sessions against the messaging network. Establishment
// is slow and failure-prone; callers bound every call with a context
// deadline and treat late completions as abandoned.
type Dialer interface {
	Establish(ctx context.Context, ident identity.Identity, opts EstablishOptions) (Session, error)
}

// Session is the live handle to the messaging network for one identity.
// A session is never partially initialized: it either supports conversation
// creation and listing, or it does not exist.
type Session interface {
	// NewConversation negotiates a bidirectional channel with the peer.
	NewConversation(ctx context.Context, peerID string) (Conversation, error)
	// ListConversations returns known conversations ordered most recently
	// active first.
	ListConversations(ctx context.Context) ([]Conversation, error)
	Close() error
}

// Conversation is a negotiated channel between two identities.
type Conversation interface {
	PeerID() string
	// Send delivers content to the peer and returns the resulting envelope.
	Send(ctx context.Context, content string) (message.Envelope, error)
	// Messages returns up to limit most recent envelopes, newest first.
	Messages(ctx context.Context, limit int) ([]message.Envelope, error)
}
