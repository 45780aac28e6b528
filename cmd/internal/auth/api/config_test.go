package api

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.TrustProxy {
		t.Fatal("TrustProxy must default to false")
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want 1 MiB", cfg.MaxBodyBytes)
	}
	if !cfg.CookieSecure {
		t.Fatal("CookieSecure must default to true")
	}
	if cfg.Lockout.MaxAttempts != 5 {
		t.Fatalf("Lockout.MaxAttempts = %d, want 5", cfg.Lockout.MaxAttempts)
	}
	if cfg.Lockout.Window != 15*time.Minute {
		t.Fatalf("Lockout.Window = %v, want 15m", cfg.Lockout.Window)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_AUTH_TRUST_PROXY", "true")
	t.Setenv("WARDEN_AUTH_MAX_BODY_BYTES", "2048")
	t.Setenv("WARDEN_AUTH_COOKIE_SECURE", "false")
	t.Setenv("WARDEN_AUTH_LOCKOUT_MAX_ATTEMPTS", "10")
	t.Setenv("WARDEN_AUTH_LOCKOUT_WINDOW", "5m")

	cfg := LoadConfigFromEnv()

	if !cfg.TrustProxy {
		t.Fatal("TrustProxy override ignored")
	}
	if cfg.MaxBodyBytes != 2048 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
	if cfg.CookieSecure {
		t.Fatal("CookieSecure override ignored")
	}
	if cfg.Lockout.MaxAttempts != 10 || cfg.Lockout.Window != 5*time.Minute {
		t.Fatalf("Lockout = %+v", cfg.Lockout)
	}
}

func TestLoadConfigFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("WARDEN_AUTH_MAX_BODY_BYTES", "-5")
	t.Setenv("WARDEN_AUTH_LOCKOUT_MAX_ATTEMPTS", "zero")
	t.Setenv("WARDEN_AUTH_LOCKOUT_WINDOW", "soon")

	cfg := LoadConfigFromEnv()

	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want default on garbage", cfg.MaxBodyBytes)
	}
	if cfg.Lockout.MaxAttempts != 5 || cfg.Lockout.Window != 15*time.Minute {
		t.Fatalf("Lockout = %+v, want defaults on garbage", cfg.Lockout)
	}
}
