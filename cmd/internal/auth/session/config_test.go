package session

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.OpenRetention != 48*time.Hour || cfg.ClosedRetention != 20*time.Hour {
		t.Fatalf("unexpected retention defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("TUNNELGATE_SESSION_OPEN_RETENTION", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidTestMode(t *testing.T) {
	t.Setenv("TUNNELGATE_SESSION_TEST_MODE", "sometimes")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for bad bool, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidKeyBytes(t *testing.T) {
	t.Setenv("TUNNELGATE_SESSION_KEY_BYTES", "8")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for small key size, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("TUNNELGATE_SESSION_TEST_MODE", "true")
	t.Setenv("TUNNELGATE_SESSION_OPEN_RETENTION", "24h")
	t.Setenv("TUNNELGATE_SESSION_CLOSED_RETENTION", "2h")
	t.Setenv("TUNNELGATE_SESSION_SWEEP_INTERVAL", "1m")
	t.Setenv("TUNNELGATE_SESSION_TRIAL_DURATION", "10m")
	t.Setenv("TUNNELGATE_SESSION_AD_GRACE", "30s")
	t.Setenv("TUNNELGATE_SESSION_KEY_BYTES", "32")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.TestMode {
		t.Fatalf("test mode not enabled")
	}
	if cfg.OpenRetention != 24*time.Hour {
		t.Fatalf("open retention mismatch: %v", cfg.OpenRetention)
	}
	if cfg.ClosedRetention != 2*time.Hour {
		t.Fatalf("closed retention mismatch: %v", cfg.ClosedRetention)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("sweep interval mismatch: %v", cfg.SweepInterval)
	}
	if cfg.TrialDuration != 10*time.Minute {
		t.Fatalf("trial duration mismatch: %v", cfg.TrialDuration)
	}
	if cfg.AdGrace != 30*time.Second {
		t.Fatalf("ad grace mismatch: %v", cfg.AdGrace)
	}
	if cfg.SessionKeyBytes != 32 {
		t.Fatalf("session key bytes mismatch: %d", cfg.SessionKeyBytes)
	}
}
