// Package mirror provides the durable, queryable secondary copy of sent
// and received messages. The mirror is best-effort: writes happen off the
// send path and its records only ever enhance the read path, never gate
// correctness.
package mirror

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/opd-ai/tipsession/message"
)

// Record is the durable copy of a message envelope plus its provenance.
type Record struct {
	ID       string           `json:"id"`
	Envelope message.Envelope `json:"envelope"`
	Source   message.Source   `json:"source"`
}

// Filter selects records by participant: every record where the given
// identifier is the sender or the recipient matches.
type Filter struct {
	Participant string `json:"participant"`
}

// Store is the durable mirror interface. Upsert is keyed by the record's
// deterministic id; messages are immutable once sent, so last-write-wins
// is acceptable.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
}

// RecordID derives the deterministic record id from sender, recipient and
// timestamp, so the same logical message always lands on the same key.
func RecordID(senderID, recipientID string, sentAt time.Time) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%s|%d", strings.ToLower(senderID), strings.ToLower(recipientID), sentAt.UnixNano())
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// NewRecord builds a Record for the envelope with its id derived from the
// envelope's participants and timestamp.
func NewRecord(env message.Envelope, src message.Source) Record {
	return Record{
		ID:       RecordID(env.SenderID, env.RecipientID, env.SentAt),
		Envelope: env,
		Source:   src,
	}
}

// Matches reports whether the record involves the filtered participant.
func (f Filter) Matches(rec Record) bool {
	p := strings.ToLower(strings.TrimSpace(f.Participant))
	if p == "" {
		return false
	}
	return strings.ToLower(rec.Envelope.SenderID) == p || strings.ToLower(rec.Envelope.RecipientID) == p
}
