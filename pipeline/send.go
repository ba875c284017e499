// Package pipeline orchestrates message delivery: ensure a conversation
// exists, send the payload, retry transient failures under a time budget,
// and persist a mirror copy off the critical path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/conversation"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/session"
)

// Budgets and attempt caps before profile scaling. A first message pays
// for conversation negotiation on top of the send, so it gets the larger
// budget but fewer attempts.
const (
	FirstMessageBudget      = 20 * time.Second
	SubsequentMessageBudget = 15 * time.Second

	firstMessageAttempts      = 2
	subsequentMessageAttempts = 3

	baseBackoff = 1 * time.Second
	maxBackoff  = 8 * time.Second

	mirrorWriteTimeout = 10 * time.Second
)

// ErrSendFailed marks a terminal pipeline failure after attempts and
// budget are exhausted.
var ErrSendFailed = errors.New("send failed")

// retryableSignatures classify transient failures eligible for
// backoff-and-retry: network flakiness, timeouts, server 5xx responses,
// and identity-sync lag.
var retryableSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"network",
	"connection",
	"500",
	"502",
	"503",
	"internal server error",
	"identity not synced",
	"identity-sync",
}

// Result is the outcome of one Send invocation. Warning carries the
// delivery-uncertainty note used when a failure is downgraded in
// storage-restricted environments.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Err       error  `json:"-"`
}

// Sender runs the send pipeline against the conversation cache and
// persists mirror copies of delivered messages.
type Sender struct {
	client  *session.Client
	cache   *conversation.Cache
	store   mirror.Store
	profile config.DeploymentProfile
	log     *logrus.Entry
}

// NewSender creates a send pipeline.
func NewSender(client *session.Client, cache *conversation.Cache, store mirror.Store, profile config.DeploymentProfile) *Sender {
	return &Sender{
		client:  client,
		cache:   cache,
		store:   store,
		profile: profile,
		log:     logrus.WithField("component", "pipeline.sender"),
	}
}

// Send delivers content to the peer. Attempts loop under both an attempt
// cap and a total time budget; retryable failures back off exponentially
// when the remaining budget covers the delay.
//
// In storage-restricted environments the pipeline runs a single attempt
// and a total failure is still reported as Success with a Warning. The
// notification is auxiliary to the value transfer it announces, and its
// failure must never look like a transfer failure to the end user. This
// asymmetry is deliberate; do not "fix" it without product sign-off.
func (s *Sender) Send(ctx context.Context, peerID, content string) Result {
	first := !s.cache.Has(peerID)

	budget := SubsequentMessageBudget
	maxAttempts := subsequentMessageAttempts
	if first {
		budget = FirstMessageBudget
		maxAttempts = firstMessageAttempts
	}
	if !s.profile.SupportsPersistentStorage {
		// One shot: compounding slow retries against a flaky backend only
		// stretches the user-visible stall.
		maxAttempts = 1
	}
	budget = s.profile.Scale(budget)
	deadline := time.Now().Add(budget)

	s.log.WithFields(logrus.Fields{
		"peer":          peerID,
		"first_message": first,
		"budget":        budget,
		"max_attempts":  maxAttempts,
	}).Debug("send pipeline starting")

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !s.backoff(ctx, attempt, deadline) {
				break
			}
		}
		if !time.Now().Before(deadline) {
			break
		}

		env, err := s.attempt(ctx, peerID, content, deadline)
		if err == nil {
			s.persistMirror(env)
			return Result{Success: true, MessageID: env.MessageID}
		}

		lastErr = err
		if !Retryable(err) {
			s.log.WithError(err).WithField("peer", peerID).Warn("terminal send error")
			break
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"peer":    peerID,
			"attempt": attempt + 1,
		}).Info("retryable send error")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("budget %v exhausted before any attempt completed", budget)
	}

	if !s.profile.SupportsPersistentStorage {
		warning := fmt.Sprintf("notification delivery unconfirmed in restricted environment: %v", lastErr)
		s.log.WithField("peer", peerID).Warn(warning)
		return Result{Success: true, Warning: warning}
	}

	return Result{
		Success: false,
		Err:     fmt.Errorf("%w to %s: %v", ErrSendFailed, peerID, lastErr),
	}
}

// attempt performs one negotiate-then-send round, both bounded by the
// remaining pipeline budget.
func (s *Sender) attempt(ctx context.Context, peerID, content string, deadline time.Time) (message.Envelope, error) {
	opCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conv, err := s.cache.GetOrCreate(opCtx, peerID)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("conversation negotiation failed: %w", err)
	}

	env, err := conv.Send(opCtx, content)
	if err != nil {
		return message.Envelope{}, err
	}

	// Some network clients return sparse envelopes; fill in what the
	// pipeline already knows so the mirror copy is queryable.
	if env.RecipientID == "" {
		env.RecipientID = peerID
	}
	if env.SenderID == "" {
		if ident, ok := s.client.Identity(); ok {
			env.SenderID = ident.Address
		}
	}
	if env.SentAt.IsZero() {
		env.SentAt = time.Now()
	}
	return env, nil
}

// backoff sleeps for the attempt's exponential delay, provided the
// remaining budget covers it. Returns false when the loop should end.
func (s *Sender) backoff(ctx context.Context, attempt int, deadline time.Time) bool {
	delay := baseBackoff << (attempt - 1)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	if time.Until(deadline) < delay {
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// persistMirror writes the mirror copy as a detached task. The caller is
// never blocked on, or failed by, the mirror write.
func (s *Sender) persistMirror(env message.Envelope) {
	rec := mirror.NewRecord(env, message.SourceMirror)
	detach(s.log, "mirror upsert", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		defer cancel()
		return s.store.Upsert(ctx, rec)
	})
}

// Retryable reports whether the error is transient per the substring
// classification.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
