package tipsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/conversation"
	"github.com/opd-ai/tipsession/history"
	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/pipeline"
	"github.com/opd-ai/tipsession/session"
)

// State is the facade's connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MaxConnectAttempts caps automatic connection attempts per identity.
// Each attempt may prompt the user's wallet for a signature, so an
// unresponsive network must not produce a retry storm.
const MaxConnectAttempts = 2

// connectCooldown is the pause imposed after a failed attempt before the
// next automatic one.
const connectCooldown = 5 * time.Second

var (
	// ErrMaxConnectAttempts means automatic connects are suppressed until
	// Reconnect resets the counter.
	ErrMaxConnectAttempts = errors.New("maximum connection attempts reached, manual reconnect required")
	// ErrConnectCooldown means the previous failure is too recent.
	ErrConnectCooldown = errors.New("connection attempt in cooldown")
	// ErrConnectInProgress means a connect is already running.
	ErrConnectInProgress = errors.New("connection attempt already in progress")
	// ErrConnectAborted means a disconnect superseded the attempt while it
	// was in flight.
	ErrConnectAborted = errors.New("connection attempt aborted by disconnect")
	// ErrNotConnected means the operation needs a connected messenger.
	ErrNotConnected = errors.New("messenger is not connected")
)

// attemptState bounds retries per identity so a dead network cannot spin
// reconnect loops against the user's wallet. It resets on success, on
// manual reconnect, and whenever a new address is observed.
type attemptState struct {
	attempts          int
	lastFailedAddress string
	cooldownDeadline  time.Time
}

// Messenger is the externally consumed facade over the session client,
// conversation cache, send pipeline, and history reconciliation.
type Messenger struct {
	mu    sync.Mutex
	state State
	// generation is bumped by every Disconnect. An in-flight Connect
	// records it before establishing; a completion carrying a stale
	// generation lost to a disconnect and must not transition the facade.
	generation uint64
	attempts   attemptState
	profile    config.DeploymentProfile
	client     *session.Client
	cache      *conversation.Cache
	sender     *pipeline.Sender
	reconciler *history.Reconciler
	log        *logrus.Entry
}

// New wires a messenger over the given network dialer and mirror store.
func New(dialer network.Dialer, store mirror.Store, profile config.DeploymentProfile) *Messenger {
	client := session.NewClient(dialer, profile)
	cache := conversation.NewCache(client, profile)

	return &Messenger{
		profile:    profile,
		client:     client,
		cache:      cache,
		sender:     pipeline.NewSender(client, cache, store, profile),
		reconciler: history.NewReconciler(client, store, profile),
		log:        logrus.WithField("component", "tipsession.messenger"),
	}
}

// Connect moves the messenger to Connected by establishing a session for
// the identity. Connecting while Connected is a no-op. Automatic attempts
// for the same identity are capped at MaxConnectAttempts; a fresh address
// resets the counter immediately, since a prior failure against one
// identity must not block a different one.
func (m *Messenger) Connect(ctx context.Context, ident identity.Identity) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}

	if m.attempts.lastFailedAddress != "" && !ident.SameAddress(m.attempts.lastFailedAddress) {
		m.log.WithField("address", ident.Address).Debug("new identity observed, resetting attempt state")
		m.attempts = attemptState{}
	}
	if m.attempts.attempts >= MaxConnectAttempts {
		m.mu.Unlock()
		return ErrMaxConnectAttempts
	}
	if now := time.Now(); now.Before(m.attempts.cooldownDeadline) {
		m.mu.Unlock()
		return fmt.Errorf("%w until %v", ErrConnectCooldown, m.attempts.cooldownDeadline)
	}

	m.state = StateConnecting
	gen := m.generation
	m.mu.Unlock()

	err := m.client.Connect(ctx, ident)

	m.mu.Lock()
	if m.generation != gen {
		// A disconnect ran while the attempt was in flight; its outcome no
		// longer matters. Tear down anything it established, unless a newer
		// attempt has already taken ownership of the client.
		superseded := m.state != StateDisconnected
		m.mu.Unlock()
		if !superseded {
			_ = m.client.Disconnect()
		}
		m.log.WithField("address", ident.Address).Info("connection attempt aborted by disconnect")
		return ErrConnectAborted
	}
	if err != nil {
		m.state = StateDisconnected
		m.attempts.attempts++
		m.attempts.lastFailedAddress = ident.Address
		m.attempts.cooldownDeadline = time.Now().Add(m.profile.Scale(connectCooldown))
		attempts := m.attempts.attempts
		m.mu.Unlock()
		m.log.WithError(err).WithFields(logrus.Fields{
			"address":  ident.Address,
			"attempts": attempts,
		}).Warn("connection attempt failed")
		return fmt.Errorf("connect failed: %w", err)
	}

	m.state = StateConnected
	m.attempts = attemptState{}
	m.mu.Unlock()
	m.log.WithField("address", ident.Address).Info("messenger connected")
	return nil
}

// Reconnect resets the attempt counter and cooldown, then connects. This
// is the manual retry affordance shown once the attempt cap is reached.
func (m *Messenger) Reconnect(ctx context.Context, ident identity.Identity) error {
	m.mu.Lock()
	m.attempts = attemptState{}
	m.mu.Unlock()
	return m.Connect(ctx, ident)
}

// Disconnect tears down the session from any state and clears the
// conversation cache: cached conversations never outlive their session.
// Disconnecting while a connect is in flight aborts that attempt: its
// eventual completion observes the bumped generation and stays down.
func (m *Messenger) Disconnect() error {
	m.mu.Lock()
	m.state = StateDisconnected
	m.generation++
	m.mu.Unlock()

	m.cache.Clear()
	if err := m.client.Disconnect(); err != nil {
		return err
	}
	m.log.Info("messenger disconnected")
	return nil
}

// SendMessage runs the send pipeline toward the peer.
func (m *Messenger) SendMessage(ctx context.Context, peerID, content string) pipeline.Result {
	if !m.IsConnected() {
		return pipeline.Result{Success: false, Err: ErrNotConnected}
	}
	return m.sender.Send(ctx, peerID, content)
}

// ConversationHistory returns the merged network+mirror history for the
// connected identity, most recent first. Without an identity the result
// is empty; history never errors.
func (m *Messenger) ConversationHistory(ctx context.Context) []message.Envelope {
	addr := m.WalletAddress()
	if addr == "" {
		return nil
	}
	return m.reconciler.History(ctx, addr)
}

// IsConnected reports whether the messenger holds a live session.
func (m *Messenger) IsConnected() bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return state == StateConnected && m.client.IsConnected()
}

// IsConnecting reports whether a connect is in flight.
func (m *Messenger) IsConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnecting
}

// State returns the facade state.
func (m *Messenger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WalletAddress returns the connected identity's address, or "".
func (m *Messenger) WalletAddress() string {
	if ident, ok := m.client.Identity(); ok {
		return ident.Address
	}
	return ""
}

// Status is a snapshot of observable messenger state, exposed for the
// debugClient action and UI binding.
type Status struct {
	Connected           string `json:"state"`
	Address             string `json:"address,omitempty"`
	CachedConversations int    `json:"cachedConversations"`
	RemainingAttempts   int    `json:"remainingAttempts"`
}

// DebugStatus captures the current state snapshot.
func (m *Messenger) DebugStatus() Status {
	m.mu.Lock()
	state := m.state
	remaining := MaxConnectAttempts - m.attempts.attempts
	m.mu.Unlock()

	return Status{
		Connected:           state.String(),
		Address:             m.WalletAddress(),
		CachedConversations: m.cache.Len(),
		RemainingAttempts:   remaining,
	}
}
