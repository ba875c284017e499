package tipsession

import (
	"context"
	"fmt"

	"github.com/opd-ai/tipsession/conversation"
)

// WarmupResult is the outcome of a warmup request. Warmup is best-effort
// and never surfaces as a user-facing error; a failure is reported as
// success with a warning.
type WarmupResult struct {
	Success bool   `json:"success"`
	Cached  bool   `json:"cached"`
	Warning string `json:"warning,omitempty"`
}

// WarmupConversation pre-establishes a conversation with the peer before
// the user tries to send, hiding negotiation latency from the critical
// path. Warmup runs off that path, so it gets the extended negotiation
// budget.
func (m *Messenger) WarmupConversation(ctx context.Context, peerID string) WarmupResult {
	if m.cache.Has(peerID) {
		return WarmupResult{Success: true, Cached: true}
	}
	if !m.IsConnected() {
		return WarmupResult{Success: true, Warning: "warmup skipped: not connected"}
	}

	_, err := m.cache.GetOrCreateWithTimeout(ctx, peerID, conversation.WarmupNegotiationTimeout)
	if err != nil {
		warning := fmt.Sprintf("warmup negotiation failed: %v", err)
		m.log.WithField("peer", peerID).Info(warning)
		return WarmupResult{Success: true, Warning: warning}
	}

	m.log.WithField("peer", peerID).Debug("conversation warmed up")
	return WarmupResult{Success: true}
}
