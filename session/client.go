// Package session owns the single lazily-created messaging-network client.
// It performs session establishment with bounded timeouts and
// environment-specific storage fallbacks, and exposes identity accessors.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/identity"
	"github.com/opd-ai/tipsession/network"
)

// Establishment budgets by account kind, before profile scaling. Contract
// wallets need the longer budget because their signature round trip can
// itself take tens of seconds.
const (
	EstablishTimeoutExternallyOwned = 30 * time.Second
	EstablishTimeoutContractWallet  = 60 * time.Second
)

var (
	// ErrEstablishmentTimeout is returned when the network does not
	// produce a session within the budget.
	ErrEstablishmentTimeout = errors.New("session establishment timed out")
	// ErrNoSession is returned by operations that need a live session.
	ErrNoSession = errors.New("no live messaging session")
)

// storageErrorSignatures are substrings of errors raised when the
// environment forbids the persistence backend the library asked for.
var storageErrorSignatures = []string{
	"storage-access-denied",
	"persistence-layer-unavailable",
	"storage quota",
	"database is locked",
}

// Client owns at most one live session per process. It is never partially
// connected: either a fully usable session exists or none does.
type Client struct {
	mu      sync.Mutex
	dialer  network.Dialer
	profile config.DeploymentProfile
	sess    network.Session
	ident   *identity.Identity
	log     *logrus.Entry
}

// NewClient creates a session client over the given network dialer.
func NewClient(dialer network.Dialer, profile config.DeploymentProfile) *Client {
	return &Client{
		dialer:  dialer,
		profile: profile,
		log:     logrus.WithField("component", "session.client"),
	}
}

// Connect establishes a session for the identity. If a session already
// exists the call returns immediately: connecting twice in a row performs
// exactly one establishment. Establishment failures are always surfaced;
// only storage-fallback attempts are retried internally.
func (c *Client) Connect(ctx context.Context, ident identity.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		c.log.WithField("address", ident.Address).Debug("session already established, connect is a no-op")
		return nil
	}

	timeout := c.profile.Scale(establishTimeout(ident.Kind))
	sess, err := c.establishWithFallback(ctx, ident, timeout)
	if err != nil {
		return err
	}

	c.sess = sess
	c.ident = &ident
	c.log.WithFields(logrus.Fields{
		"address": ident.Address,
		"kind":    ident.Kind.String(),
	}).Info("messaging session established")
	return nil
}

// establishWithFallback runs the storage-tier ladder. Unrestricted
// environments use the durable backend directly. Restricted environments
// first try with persistence disabled; if that still fails with a
// storage-related error signature, one more attempt runs with the minimal
// configuration before the error is surfaced. Without the fallback the
// feature would be entirely unusable in those environments.
func (c *Client) establishWithFallback(ctx context.Context, ident identity.Identity, timeout time.Duration) (network.Session, error) {
	tiers := []network.StorageMode{network.StorageDurable}
	if !c.profile.SupportsPersistentStorage {
		tiers = []network.StorageMode{network.StorageEphemeral, network.StorageMinimal}
	}

	var lastErr error
	for i, mode := range tiers {
		sess, err := c.establish(ctx, ident, network.EstablishOptions{Storage: mode}, timeout)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		if i+1 < len(tiers) && IsStorageError(err) {
			c.log.WithFields(logrus.Fields{
				"storage": mode.String(),
				"next":    tiers[i+1].String(),
			}).Warn("establishment hit storage restriction, retrying with reduced configuration")
			continue
		}
		break
	}
	return nil, lastErr
}

// establish races one establishment attempt against its timer. A late
// completion after the race is lost gets its session closed rather than
// leaking it.
func (c *Client) establish(ctx context.Context, ident identity.Identity, opts network.EstablishOptions, timeout time.Duration) (network.Session, error) {
	type outcome struct {
		sess network.Session
		err  error
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan outcome, 1)
	go func() {
		sess, err := c.dialer.Establish(attemptCtx, ident, opts)
		done <- outcome{sess: sess, err: err}
	}()

	select {
	case out := <-done:
		cancel()
		if out.err != nil {
			return nil, fmt.Errorf("session establishment failed: %w", out.err)
		}
		return out.sess, nil
	case <-attemptCtx.Done():
		cancel()
		go func() {
			if out := <-done; out.sess != nil {
				_ = out.sess.Close()
			}
		}()
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("no session after %v: %w", timeout, ErrEstablishmentTimeout)
		}
		return nil, attemptCtx.Err()
	}
}

// IsConnected reports whether a live session exists.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Identity returns the identity the live session was established for.
func (c *Client) Identity() (identity.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ident == nil {
		return identity.Identity{}, false
	}
	return *c.ident, true
}

// Session returns the live session handle.
func (c *Client) Session() (network.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrNoSession
	}
	return c.sess, nil
}

// Disconnect tears the session down. Conversations negotiated on it are
// invalid afterwards; the caller clears its conversation cache.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil
	}
	err := c.sess.Close()
	c.sess = nil
	c.ident = nil
	c.log.Info("messaging session torn down")
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// IsStorageError reports whether the error matches a known
// storage-restriction signature.
func IsStorageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range storageErrorSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func establishTimeout(kind identity.Kind) time.Duration {
	if kind == identity.KindContractWallet {
		return EstablishTimeoutContractWallet
	}
	return EstablishTimeoutExternallyOwned
}
