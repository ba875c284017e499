package wire

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send after the transport is closed.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves frames between the two execution contexts. Frames()
// yields inbound frames until the transport closes, at which point the
// channel is closed.
type Transport interface {
	Send(f Frame) error
	Frames() <-chan Frame
	Close() error
}

// PipeTransport is one end of an in-process frame pipe. It models the
// host/isolated split when both contexts run in the same process, and
// stands in for the real boundary in tests.
type PipeTransport struct {
	mu       sync.Mutex
	out      chan<- Frame
	in       chan Frame
	closed   bool
	done     chan struct{}
	peerDone chan struct{}
}

// Pipe creates two cross-connected transports. Frames sent on one end
// arrive on the other. The buffer bounds how many frames may be in flight
// in each direction before Send blocks.
func Pipe(buffer int) (*PipeTransport, *PipeTransport) {
	ab := make(chan Frame, buffer)
	ba := make(chan Frame, buffer)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	a := &PipeTransport{out: ab, in: ba, done: aDone, peerDone: bDone}
	b := &PipeTransport{out: ba, in: ab, done: bDone, peerDone: aDone}
	return a, b
}

// Send delivers a frame to the opposite end. Either end closing unblocks
// the call: a frame nobody will ever read must not park the sender.
func (p *PipeTransport) Send(f Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrTransportClosed
	}
	p.mu.Unlock()

	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrTransportClosed
	case <-p.peerDone:
		return ErrTransportClosed
	}
}

// Frames returns the inbound frame channel.
func (p *PipeTransport) Frames() <-chan Frame {
	return p.in
}

// Close shuts down this end. In-flight frames already buffered remain
// readable by the peer.
func (p *PipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}
