package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler wires the session lifecycle endpoints to the identity, session,
// and guard services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.UserStore
	sessions *session.Service
	lockout  *guard.Lockout
	denylist *guard.Denylist

	// pool is used for audit-log inserts only; nil disables auditing.
	pool *pgxpool.Pool
}

// NewHandler constructs a session API handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.UserStore, sessions *session.Service, lockout *guard.Lockout, denylist *guard.Denylist, pool *pgxpool.Pool) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || sessions == nil {
		return nil, errors.New("api: nil identity store or session service")
	}
	if lockout == nil {
		lockout = guard.NewLockout(nil, cfg.Lockout, log)
	}
	if denylist == nil {
		denylist = guard.NewDenylist(nil, log)
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		lockout:  lockout,
		denylist: denylist,
		pool:     pool,
	}, nil
}

// Register wires session routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /sessions", h.handleLogin)
	mux.HandleFunc("POST /sessions/refresh", h.handleRefresh)
	mux.HandleFunc("GET /sessions/me", h.handleMe)
	mux.HandleFunc("GET /sessions", h.handleList)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleRevokeSession)
	mux.HandleFunc("DELETE /sessions", h.handleLogout)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	password := strings.TrimSpace(req.Password)
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Lockout check before any credential work. The guard fails open when
	// Redis is unreachable.
	if err := h.lockout.Check(ctx, email); err != nil {
		var locked *guard.AccountLockedError
		if errors.As(err, &locked) {
			metrics.LoginTotal.WithLabelValues("locked").Inc()
			h.auditLoginLocked(ctx, ip, ua, email, locked.RetryAfter)
			writeLocked(w, locked.RetryAfter)
			return
		}
	}

	user, err := identity.VerifyCredentials(ctx, h.users, email, password, strings.TrimSpace(req.TOTPCode), now)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrSecondFactorRequired):
			metrics.LoginTotal.WithLabelValues("totp_required").Inc()
			writeJSON(w, http.StatusOK, totpRequiredResponse{TOTPRequired: true})
		case errors.Is(err, identity.ErrSecondFactorInvalid):
			metrics.LoginTotal.WithLabelValues("totp_invalid").Inc()
			h.auditLoginFailed(ctx, nil, ip, ua, email, "totp_invalid")
			h.recordFailureAndReply(ctx, w, email, "totp_invalid", "invalid second factor")
		case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrNotFound):
			metrics.LoginTotal.WithLabelValues("invalid_credentials").Inc()
			h.auditLoginFailed(ctx, nil, ip, ua, email, "invalid_credentials")
			h.recordFailureAndReply(ctx, w, email, "invalid_credentials", "invalid credentials")
		default:
			metrics.LoginTotal.WithLabelValues("error").Inc()
			h.log.Error("auth.login.verify.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		}
		return
	}

	if err := h.lockout.Clear(ctx, email); err != nil {
		h.log.Warn("auth.login.lockout_clear.fail", "err", err)
	}

	issued, err := h.sessions.IssueSession(ctx, user.ID, session.ClientMeta{IP: ip, UserAgent: ua}, now)
	if err != nil {
		metrics.LoginTotal.WithLabelValues("error").Inc()
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	metrics.LoginTotal.WithLabelValues("ok").Inc()
	h.auditLoginSuccess(ctx, user.ID, issued.SessionID, ip, ua, email)
	h.setSessionCookies(w, issued.AccessToken, issued.AccessClaims.ExpiresAt, issued.RefreshToken, issued.RefreshExp)

	writeJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		if v, ok := cookieValue(r, RefreshCookieName); ok {
			refreshToken = v
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Refresh(ctx, refreshToken, now)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenReuseDetected):
			metrics.RefreshTotal.WithLabelValues("reuse_detected").Inc()
			h.auditRefreshReuse(ctx, ip, ua)
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrTokenExpired):
			metrics.RefreshTotal.WithLabelValues("expired").Inc()
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "refresh_expired", "refresh token expired")
		case errors.Is(err, session.ErrTokenNotFound), errors.Is(err, session.ErrInvalidToken):
			metrics.RefreshTotal.WithLabelValues("invalid").Inc()
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "invalid_refresh", "invalid refresh token")
		default:
			metrics.RefreshTotal.WithLabelValues("error").Inc()
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		}
		return
	}

	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	h.auditRefreshSuccess(ctx, ip, ua)
	h.setSessionCookies(w, issued.AccessToken, issued.AccessClaims.ExpiresAt, issued.RefreshToken, issued.RefreshExp)

	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	active, err := h.sessions.ListSessions(r.Context(), claims.UserID, now)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	// The refresh cookie rides on /sessions, so the caller's own session can
	// be flagged by hash.
	currentHash := ""
	if v, ok := cookieValue(r, RefreshCookieName); ok {
		currentHash = session.HashRefreshToken(v)
	}

	items := make([]sessionListItem, 0, len(active))
	for _, s := range active {
		items = append(items, toSessionListItem(s, currentHash))
	}

	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: items})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	err := h.sessions.RevokeSession(ctx, claims.UserID, sessionID, now)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.log.Error("auth.sessions.revoke.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
		return
	}

	metrics.SessionsRevokedTotal.Inc()
	h.auditSessionRevoked(ctx, claims.UserID, sessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	writeJSON(w, http.StatusOK, sessionRevokedResponse{Revoked: true})
}

// handleLogout tears down the current session. It is idempotent: missing or
// already-dead tokens still produce 200 so clients can always converge on a
// logged-out state.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	// Denylist the access token for its remaining lifetime so it dies now
	// instead of at its natural expiry.
	userID := ""
	if token := h.accessTokenFromRequest(r); token != "" {
		if claims, err := h.sessions.AccessTokens().Verify(token, now); err == nil {
			userID = claims.UserID
			if err := h.denylist.Add(ctx, claims.TokenID, claims.ExpiresAt.Sub(now)); err != nil {
				h.log.Warn("auth.logout.denylist.fail", "err", err)
			}
		}
	}

	if v, ok := cookieValue(r, RefreshCookieName); ok {
		if err := h.sessions.RevokeByRefreshToken(ctx, v, now); err != nil {
			h.log.Error("auth.logout.revoke.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
			return
		}
	}

	metrics.LogoutTotal.Inc()
	h.auditLogout(ctx, userID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, logoutResponse{LoggedOut: true})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := h.accessTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
		return session.AccessClaims{}, false
	}

	claims, err := h.sessions.AccessTokens().Verify(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	if h.denylist.Contains(r.Context(), claims.TokenID) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "token revoked")
		return session.AccessClaims{}, false
	}

	return claims, true
}

func (h *Handler) accessTokenFromRequest(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if v, ok := cookieValue(r, AccessCookieName); ok {
		return v
	}
	return ""
}

// recordFailureAndReply bumps the failure counter and answers 401, or 429
// when this failure crossed the lockout threshold. The last couple of
// attempts before lockout carry a remaining-attempts hint.
func (h *Handler) recordFailureAndReply(ctx context.Context, w http.ResponseWriter, identifier, code, msg string) {
	lockedNow, err := h.lockout.RecordFailure(ctx, identifier)
	if err != nil {
		h.log.Warn("auth.login.record_failure.fail", "err", err)
	}
	if lockedNow {
		writeLocked(w, h.lockout.Window())
		return
	}

	if count, err := h.lockout.FailureCount(ctx, identifier); err == nil {
		if remaining := h.lockout.MaxAttempts() - count; remaining > 0 && remaining <= 2 {
			msg = fmt.Sprintf("%s (%d attempts remaining)", msg, remaining)
		}
	}

	writeError(w, http.StatusUnauthorized, code, msg)
}

func writeLocked(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "account_locked", "too many failed attempts, try again later")
}
