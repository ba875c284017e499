// Package config resolves the deployment profile once at startup. The
// profile replaces ad-hoc hostname checks scattered through the code: it
// is computed here and passed explicitly into the session client and the
// send pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DeploymentProfile captures the environment-conditional knobs the rest of
// the system branches on.
type DeploymentProfile struct {
	// SupportsPersistentStorage is false in deployment environments that
	// forbid the messaging library's default persistence backend. Those
	// environments get in-memory sessions, a single send attempt, and
	// lenient send reporting.
	SupportsPersistentStorage bool
	// TimeoutMultiplier scales every network timeout, for slow or
	// simulated environments. Always > 0.
	TimeoutMultiplier float64
}

// Default is the profile for an unrestricted environment.
func Default() DeploymentProfile {
	return DeploymentProfile{SupportsPersistentStorage: true, TimeoutMultiplier: 1.0}
}

// Scale applies the timeout multiplier to a duration.
func (p DeploymentProfile) Scale(d time.Duration) time.Duration {
	if p.TimeoutMultiplier <= 0 {
		return d
	}
	return time.Duration(float64(d) * p.TimeoutMultiplier)
}

// restrictedHostSuffixes name embed/sandbox hosts known to forbid the
// persistent-storage primitive the messaging library wants by default.
var restrictedHostSuffixes = []string{
	".stackblitz.io",
	".webcontainer.io",
	".csb.app",
}

// RestrictedHost reports whether the hostname belongs to a deployment
// environment with a restricted storage backend.
func RestrictedHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	for _, suffix := range restrictedHostSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// fileProfile is the TOML shape of a profile override file.
type fileProfile struct {
	SupportsPersistentStorage *bool   `toml:"supports_persistent_storage"`
	TimeoutMultiplier         float64 `toml:"timeout_multiplier"`
}

// Load resolves the deployment profile. Resolution order, later wins:
// defaults, hostname predicate, TOML file (path argument or
// TIPSESSION_PROFILE), then individual environment variables
// (TIPSESSION_PERSISTENT_STORAGE, TIPSESSION_TIMEOUT_MULTIPLIER). A .env
// file is honored when present.
func Load(path string) (DeploymentProfile, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	profile := Default()

	host := os.Getenv("TIPSESSION_HOSTNAME")
	if host == "" {
		host, _ = os.Hostname()
	}
	if RestrictedHost(host) {
		logrus.WithField("host", host).Info("restricted storage environment detected")
		profile.SupportsPersistentStorage = false
	}

	if path == "" {
		path = os.Getenv("TIPSESSION_PROFILE")
	}
	if path != "" {
		var fp fileProfile
		if _, err := toml.DecodeFile(path, &fp); err != nil {
			return DeploymentProfile{}, fmt.Errorf("failed to load profile file %s: %w", path, err)
		}
		if fp.SupportsPersistentStorage != nil {
			profile.SupportsPersistentStorage = *fp.SupportsPersistentStorage
		}
		if fp.TimeoutMultiplier > 0 {
			profile.TimeoutMultiplier = fp.TimeoutMultiplier
		}
	}

	if v := os.Getenv("TIPSESSION_PERSISTENT_STORAGE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return DeploymentProfile{}, fmt.Errorf("invalid TIPSESSION_PERSISTENT_STORAGE value %q: %w", v, err)
		}
		profile.SupportsPersistentStorage = b
	}
	if v := os.Getenv("TIPSESSION_TIMEOUT_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return DeploymentProfile{}, fmt.Errorf("invalid TIPSESSION_TIMEOUT_MULTIPLIER value %q", v)
		}
		profile.TimeoutMultiplier = f
	}

	logrus.WithFields(logrus.Fields{
		"persistent_storage": profile.SupportsPersistentStorage,
		"timeout_multiplier": profile.TimeoutMultiplier,
	}).Debug("deployment profile resolved")

	return profile, nil
}
