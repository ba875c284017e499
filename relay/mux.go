package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/wire"
)

// ErrRequestTimeout is returned when the peer context does not answer a
// correlated request within its budget.
var ErrRequestTimeout = errors.New("cross-context request timed out")

// Handler processes one inbound request or event frame.
type Handler func(ctx context.Context, f wire.Frame)

// Mux owns one end of a frame transport. It routes response frames to
// their pending waiters and dispatches request/event frames to registered
// handlers. Handlers run on their own goroutines so a slow operation never
// blocks a response (for example a sign response arriving while a send is
// pending).
type Mux struct {
	transport  wire.Transport
	correlator *Correlator
	handlers   map[wire.Action]Handler
	log        *logrus.Entry
}

// NewMux creates a mux over the given transport. Handle registrations must
// complete before Run starts.
func NewMux(transport wire.Transport) *Mux {
	return &Mux{
		transport:  transport,
		correlator: NewCorrelator(),
		handlers:   make(map[wire.Action]Handler),
		log:        logrus.WithField("component", "relay.mux"),
	}
}

// Handle registers the handler for an action name.
func (m *Mux) Handle(action wire.Action, h Handler) {
	m.handlers[action] = h
}

// Run processes inbound frames until the context is cancelled or the
// transport closes.
func (m *Mux) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-m.transport.Frames():
			if !ok {
				return wire.ErrTransportClosed
			}
			m.dispatch(ctx, f)
		}
	}
}

// Send delivers a frame without waiting for a response.
func (m *Mux) Send(f wire.Frame) error {
	return m.transport.Send(f)
}

// Request sends a frame and waits for the correlated response, bounded by
// a race between the response and the timeout. On timeout the pending
// entry is purged so the eventual late response is ignored rather than
// resolving a promise the caller has abandoned.
func (m *Mux) Request(ctx context.Context, f wire.Frame, timeout time.Duration) (wire.Frame, error) {
	ch := m.correlator.Register(f.ID)

	if err := m.transport.Send(f); err != nil {
		m.correlator.Cancel(f.ID)
		return wire.Frame{}, fmt.Errorf("failed to send %s request: %w", f.Name(), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		m.correlator.Cancel(f.ID)
		return wire.Frame{}, fmt.Errorf("%s after %v: %w", f.Name(), timeout, ErrRequestTimeout)
	case <-ctx.Done():
		m.correlator.Cancel(f.ID)
		return wire.Frame{}, ctx.Err()
	}
}

func (m *Mux) dispatch(ctx context.Context, f wire.Frame) {
	if f.IsResponse() {
		if !m.correlator.Resolve(f) {
			m.log.WithField("id", f.ID).Debug("ignoring response for untracked request id")
		}
		return
	}

	h, ok := m.handlers[f.Name()]
	if !ok {
		m.log.WithFields(logrus.Fields{
			"id":     f.ID,
			"action": f.Name(),
		}).Warn("no handler registered for frame")
		return
	}
	go h(ctx, f)
}
