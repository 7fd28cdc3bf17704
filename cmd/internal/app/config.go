package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tunnelgate/cmd/internal/auth/session"
)

// ErrConfig is returned when the runtime configuration is invalid.
var ErrConfig = errors.New("app: invalid configuration")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// StorageDir is the token store root. Session records live in StorageDir/sessions.
	StorageDir string

	// OpsAddr is the listen address of the operations endpoint (/healthz, /readyz, /metrics).
	// Empty disables the listener.
	OpsAddr string

	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// ListConcurrency bounds parallel record reads when listing tokens.
	ListConcurrency int

	Session session.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("session config: %w", err)
	}

	cfg := Config{
		StorageDir: EnvString("TUNNELGATE_STORAGE_DIR", "./storage"),
		OpsAddr:    EnvStringAllowEmpty("TUNNELGATE_OPS_ADDR", "127.0.0.1:9090"),
		LogLevel:   EnvString("TUNNELGATE_LOG_LEVEL", "info"),
		LogFormat:  EnvString("TUNNELGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TUNNELGATE_OPS_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   EnvDuration("TUNNELGATE_SHUTDOWN_TIMEOUT", 10*time.Second),

		ListConcurrency: EnvInt("TUNNELGATE_LIST_CONCURRENCY", 8),

		Session: sess,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants of cfg.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StorageDir) == "" {
		return fmt.Errorf("%w: storage dir is empty", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}
