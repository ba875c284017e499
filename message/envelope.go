// Package message defines the message envelope exchanged between two
// parties over the messaging network, together with the provenance and
// de-duplication primitives used when merging independent history sources.
package message

import (
	"fmt"
	"strings"
	"time"
)

// Source records where a copy of a message was observed.
type Source uint8

const (
	// SourceNetwork marks a copy fetched from the live messaging network.
	SourceNetwork Source = iota
	// SourceMirror marks a copy read from or written to the durable mirror.
	SourceMirror
)

// String returns a human-readable provenance tag.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceMirror:
		return "mirror"
	default:
		return "unknown"
	}
}

// Envelope is an immutable record of one delivered message. Content is an
// opaque string, conventionally JSON-encoded for structured notifications.
type Envelope struct {
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
	MessageID      string    `json:"messageId"`
}

// DedupKey returns the composite key under which the same logical message
// arriving from two sources collapses to one entry: sender, nanosecond
// timestamp, and content. Sender comparison is case-insensitive because
// address-style identifiers differ only in hex casing between sources.
func (e Envelope) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s", strings.ToLower(e.SenderID), e.SentAt.UnixNano(), e.Content)
}
