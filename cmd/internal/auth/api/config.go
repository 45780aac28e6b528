package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"warden/cmd/internal/auth/guard"
)

// Cookie names. The access cookie rides on every request; the refresh cookie
// is scoped to the /sessions subtree so it only travels to the refresh and
// logout endpoints.
const (
	AccessCookieName  = "warden_access"
	RefreshCookieName = "warden_refresh"

	accessCookiePath  = "/"
	refreshCookiePath = "/sessions"
)

// Config controls session API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	CookieDomain string
	CookieSecure bool

	Lockout guard.LockoutConfig
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("WARDEN_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("WARDEN_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CookieDomain: strings.TrimSpace(os.Getenv("WARDEN_AUTH_COOKIE_DOMAIN")),
		CookieSecure: envBool("WARDEN_AUTH_COOKIE_SECURE", true),
		Lockout: guard.LockoutConfig{
			MaxAttempts: envInt("WARDEN_AUTH_LOCKOUT_MAX_ATTEMPTS", 5),
			Window:      envDuration("WARDEN_AUTH_LOCKOUT_WINDOW", 15*time.Minute),
		},
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

// cookieSameSite is fixed at Lax: the refresh cookie never travels on
// cross-site POSTs, which is what makes the cookie transport safe without a
// CSRF token.
func cookieSameSite() http.SameSite {
	return http.SameSiteLaxMode
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
