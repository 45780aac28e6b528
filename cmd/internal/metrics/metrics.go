// Package metrics registers the Prometheus collectors for the session
// endpoints. Counters are registered once at init via promauto on the
// default registry, which cmd/warden exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginTotal counts login attempts by result: ok, invalid_credentials,
	// totp_required, totp_invalid, locked, error.
	LoginTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_login_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// RefreshTotal counts refresh attempts by result: ok, invalid, expired,
	// reuse_detected, error.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_refresh_total",
		Help: "Refresh-token rotations by result.",
	}, []string{"result"})

	// LogoutTotal counts logout requests.
	LogoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_logout_total",
		Help: "Logout requests.",
	})

	// SessionsRevokedTotal counts sessions revoked through the session list,
	// not counting logouts of the current session.
	SessionsRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_sessions_revoked_total",
		Help: "Sessions revoked via the session management API.",
	})
)
