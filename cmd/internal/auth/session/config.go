package session

import (
	"os"
	"strconv"
	"time"

	"tunnelgate/cmd/security/token"
)

// Config defines all runtime configuration for the session authority.
//
// Retention thresholds drive the janitor: open sessions idle past
// OpenRetention and closed sessions idle past ClosedRetention are removed.
type Config struct {
	// TestMode enables the non-default connect plans (trial, rewarded ad).
	TestMode bool

	// OpenRetention is how long an open session may go unused before the janitor drops it.
	OpenRetention time.Duration

	// ClosedRetention is how long a closed session is kept for status queries.
	ClosedRetention time.Duration

	// SweepInterval is the janitor period.
	SweepInterval time.Duration

	// TrialDuration is the session-local lifetime of a trial plan.
	TrialDuration time.Duration

	// AdGrace is how long a rewarded-ad session runs before the ad must be validated.
	AdGrace time.Duration

	// SessionKeyBytes is the size of derived session keys.
	SessionKeyBytes int
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		TestMode:        false,
		OpenRetention:   48 * time.Hour,
		ClosedRetention: 20 * time.Hour,
		SweepInterval:   10 * time.Minute,
		TrialDuration:   5 * time.Minute,
		AdGrace:         3 * time.Minute,
		SessionKeyBytes: 16,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - TUNNELGATE_SESSION_TEST_MODE
//   - TUNNELGATE_SESSION_OPEN_RETENTION
//   - TUNNELGATE_SESSION_CLOSED_RETENTION
//   - TUNNELGATE_SESSION_SWEEP_INTERVAL
//   - TUNNELGATE_SESSION_TRIAL_DURATION
//   - TUNNELGATE_SESSION_AD_GRACE
//   - TUNNELGATE_SESSION_KEY_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TUNNELGATE_SESSION_TEST_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TestMode = b
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TUNNELGATE_SESSION_OPEN_RETENTION", &cfg.OpenRetention},
		{"TUNNELGATE_SESSION_CLOSED_RETENTION", &cfg.ClosedRetention},
		{"TUNNELGATE_SESSION_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"TUNNELGATE_SESSION_TRIAL_DURATION", &cfg.TrialDuration},
		{"TUNNELGATE_SESSION_AD_GRACE", &cfg.AdGrace},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := os.Getenv("TUNNELGATE_SESSION_KEY_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.SessionKeyBytes = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants of cfg.
func (c Config) Validate() error {
	if c.OpenRetention <= 0 || c.ClosedRetention <= 0 || c.SweepInterval <= 0 {
		return ErrConfig
	}
	if c.TrialDuration <= 0 || c.AdGrace <= 0 {
		return ErrConfig
	}
	if c.SessionKeyBytes < token.MinSessionKeySize || c.SessionKeyBytes > token.MaxSessionKeySize {
		return ErrConfig
	}
	return nil
}
