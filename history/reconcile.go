// Package history merges the live network's message history with the
// durable mirror into one deduplicated, time-ordered view. History is a
// read enhancement: every failure degrades to the surviving source, and a
// total failure yields an empty sequence rather than an error.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/message"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/session"
)

const (
	// listTimeout bounds the network conversation listing; keep it short
	// because the mirror can cover for a slow network.
	listTimeout = 5 * time.Second
	// RecentMessageLimit caps how many messages are pulled from the most
	// recent conversation, for load reasons.
	RecentMessageLimit = 5
)

// Reconciler fetches and merges the two history sources.
type Reconciler struct {
	client  *session.Client
	store   mirror.Store
	profile config.DeploymentProfile
	log     *logrus.Entry
}

// NewReconciler creates a history reconciler.
func NewReconciler(client *session.Client, store mirror.Store, profile config.DeploymentProfile) *Reconciler {
	return &Reconciler{
		client:  client,
		store:   store,
		profile: profile,
		log:     logrus.WithField("component", "history.reconciler"),
	}
}

// History returns the merged view for the identity, most recent first.
// The two sources are fetched concurrently; either failing narrows the
// result, both failing empties it.
func (r *Reconciler) History(ctx context.Context, identityID string) []message.Envelope {
	type fetch struct {
		envs []message.Envelope
		err  error
	}

	netCh := make(chan fetch, 1)
	mirCh := make(chan fetch, 1)

	go func() {
		envs, err := r.fetchNetwork(ctx)
		netCh <- fetch{envs: envs, err: err}
	}()
	go func() {
		envs, err := r.fetchMirror(ctx, identityID)
		mirCh <- fetch{envs: envs, err: err}
	}()

	network := <-netCh
	mirrored := <-mirCh

	if network.err != nil {
		r.log.WithError(network.err).Info("network history unavailable, falling back to mirror")
		network.envs = nil
	}
	if mirrored.err != nil {
		r.log.WithError(mirrored.err).Info("mirror history unavailable")
		mirrored.envs = nil
	}

	return Merge(network.envs, mirrored.envs)
}

// fetchNetwork lists conversations with a short timeout and reads the most
// recent conversation's last few messages.
func (r *Reconciler) fetchNetwork(ctx context.Context) ([]message.Envelope, error) {
	sess, err := r.client.Session()
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, r.profile.Scale(listTimeout))
	defer cancel()

	convs, err := sess.ListConversations(listCtx)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	// Conversations are ordered most recently active first.
	return convs[0].Messages(listCtx, RecentMessageLimit)
}

func (r *Reconciler) fetchMirror(ctx context.Context, identityID string) ([]message.Envelope, error) {
	records, err := r.store.Query(ctx, mirror.Filter{Participant: identityID})
	if err != nil {
		return nil, err
	}

	envs := make([]message.Envelope, 0, len(records))
	for _, rec := range records {
		envs = append(envs, rec.Envelope)
	}
	return envs, nil
}

// Merge deduplicates the two sequences by composite key and sorts the
// union descending by timestamp. When both sources carry the same logical
// message, the network copy's metadata wins.
func Merge(networkEnvs, mirrorEnvs []message.Envelope) []message.Envelope {
	merged := make(map[string]message.Envelope, len(networkEnvs)+len(mirrorEnvs))
	for _, env := range mirrorEnvs {
		merged[env.DedupKey()] = env
	}
	for _, env := range networkEnvs {
		merged[env.DedupKey()] = env
	}

	out := make([]message.Envelope, 0, len(merged))
	for _, env := range merged {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
