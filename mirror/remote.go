package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
)

// queryTimeout bounds a mirror read issued across the isolation boundary.
// Reads only enhance history, so the budget is short.
const queryTimeout = 10 * time.Second

// QueryResponse is the payload answering a mirrorQuery frame.
type QueryResponse struct {
	Records []Record `json:"records"`
}

// RemoteStore is a Store backed by the host context, reached through the
// cross-context frame channel. Upserts are one-way firestoreSave frames;
// queries are correlated request/response round trips.
type RemoteStore struct {
	mux *relay.Mux
	log *logrus.Entry
}

// NewRemoteStore creates a frame-backed mirror store.
func NewRemoteStore(mux *relay.Mux) *RemoteStore {
	return &RemoteStore{
		mux: mux,
		log: logrus.WithField("component", "mirror.remote"),
	}
}

// Upsert implements Store. The frame is one-way: the host persists the
// record best-effort and never acknowledges.
func (s *RemoteStore) Upsert(ctx context.Context, rec Record) error {
	frame, err := wire.NewEvent(wire.ActionMirrorSave, rec)
	if err != nil {
		return err
	}
	if err := s.mux.Send(frame); err != nil {
		return fmt.Errorf("failed to forward mirror record: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *RemoteStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	frame, err := wire.NewEvent(wire.ActionMirrorQuery, f)
	if err != nil {
		return nil, err
	}

	resp, err := s.mux.Request(ctx, frame, queryTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("host mirror query failed: %s", resp.Error)
	}

	var payload QueryResponse
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}
