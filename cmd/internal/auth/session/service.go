package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service implements the refresh-token lifecycle: issuing a session at login,
// rotating refresh tokens, detecting reuse of rotated-out tokens, and
// revoking sessions individually or by family.
//
// The refresh_tokens table is authoritative. The sessions registry is a
// best-effort mirror for display and targeted revocation; failures writing
// to it never fail the authentication operation itself.
type Service struct {
	cfg      Config
	store    RefreshStore
	registry Registry
	tokens   AccessTokenManager
	log      *slog.Logger
}

// NewService wires a session service.
func NewService(cfg Config, store RefreshStore, registry Registry, tokens AccessTokenManager, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		registry: registry,
		tokens:   tokens,
		log:      log,
	}
}

// Issued is the credential pair handed back after a login or refresh.
type Issued struct {
	AccessToken  string
	AccessClaims AccessClaims
	RefreshToken string
	RefreshExp   time.Time
	SessionID    string
}

// IssueSession mints a fresh access/refresh pair for an authenticated user,
// starting a new refresh-token family.
func (s *Service) IssueSession(ctx context.Context, userID string, meta ClientMeta, now time.Time) (Issued, error) {
	plain, hashHex, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	familyID := uuid.NewString()
	refreshExp := now.Add(s.cfg.RefreshTokenTTL)

	if _, err := s.store.Create(ctx, now, userID, hashHex, familyID, refreshExp); err != nil {
		s.log.ErrorContext(ctx, "auth.session.issue.fail", "err", err, "user_id", userID)
		return Issued{}, err
	}

	access, claims, err := s.tokens.Issue(userID, now)
	if err != nil {
		return Issued{}, err
	}

	// Registry write is best effort. The token row already exists, so a
	// mirror failure costs visibility, not security.
	sessionID, err := s.registry.Record(ctx, now, userID, hashHex, meta, refreshExp)
	if err != nil {
		s.log.WarnContext(ctx, "auth.session.record.fail", "err", err, "user_id", userID)
		sessionID = ""
	}

	s.log.InfoContext(ctx, "auth.session.issue.ok", "user_id", userID, "family_id", familyID)

	return Issued{
		AccessToken:  access,
		AccessClaims: claims,
		RefreshToken: plain,
		RefreshExp:   refreshExp,
		SessionID:    sessionID,
	}, nil
}

// Refresh exchanges a live refresh token for a new access/refresh pair,
// rotating the presented token out.
//
// Presenting a token that has already been rotated out or revoked is treated
// as theft evidence: the whole family is revoked and ErrTokenReuseDetected is
// returned, cutting off whoever still holds the newest token in the chain.
func (s *Service) Refresh(ctx context.Context, refreshPlain string, now time.Time) (Issued, error) {
	if refreshPlain == "" {
		return Issued{}, ErrInvalidToken
	}

	old, err := s.store.FindByHash(ctx, HashRefreshToken(refreshPlain))
	if err != nil {
		return Issued{}, err
	}

	if old.RevokedAt != nil {
		s.log.WarnContext(ctx, "auth.session.reuse_detected",
			"user_id", old.UserID, "family_id", old.FamilyID, "token_id", old.ID)
		if err := s.revokeFamily(ctx, now, old.FamilyID); err != nil {
			return Issued{}, err
		}
		return Issued{}, ErrTokenReuseDetected
	}

	if !now.Before(old.ExpiresAt) {
		return Issued{}, ErrTokenExpired
	}

	plain, hashHex, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	refreshExp := now.Add(s.cfg.RefreshTokenTTL)

	next, err := s.store.Rotate(ctx, now, old, hashHex, refreshExp)
	if errors.Is(err, ErrTokenRotated) {
		// Lost the rotation race. The token the caller presented has been
		// consumed by a concurrent request, so this presentation is a reuse.
		s.log.WarnContext(ctx, "auth.session.reuse_detected",
			"user_id", old.UserID, "family_id", old.FamilyID, "token_id", old.ID)
		if err := s.revokeFamily(ctx, now, old.FamilyID); err != nil {
			return Issued{}, err
		}
		return Issued{}, ErrTokenReuseDetected
	}
	if err != nil {
		s.log.ErrorContext(ctx, "auth.session.rotate.fail", "err", err, "user_id", old.UserID)
		return Issued{}, err
	}

	access, claims, err := s.tokens.Issue(old.UserID, now)
	if err != nil {
		return Issued{}, err
	}

	if err := s.registry.UpdateByHash(ctx, old.TokenHash, next.TokenHash, refreshExp); err != nil {
		s.log.WarnContext(ctx, "auth.session.mirror.fail", "err", err, "user_id", old.UserID)
	}

	s.log.InfoContext(ctx, "auth.session.refresh.ok", "user_id", old.UserID, "family_id", old.FamilyID)

	return Issued{
		AccessToken:  access,
		AccessClaims: claims,
		RefreshToken: plain,
		RefreshExp:   refreshExp,
		SessionID:    "",
	}, nil
}

// revokeFamily kills every token in the family and mirrors the revocation
// into the session registry, so a reuse-killed login disappears from the
// session list immediately. Mirror failures cost visibility, not security.
func (s *Service) revokeFamily(ctx context.Context, now time.Time, familyID string) error {
	hashes, err := s.store.RevokeFamily(ctx, now, familyID)
	if err != nil {
		return err
	}
	for _, hashHex := range hashes {
		if err := s.registry.RevokeByHash(ctx, now, hashHex); err != nil {
			s.log.WarnContext(ctx, "auth.session.mirror.fail", "err", err, "family_id", familyID)
		}
	}
	return nil
}

// RevokeByRefreshToken revokes the session behind a refresh token, for
// logout. Unknown, expired, and already-revoked tokens all succeed: logout
// is idempotent and never leaks token state.
func (s *Service) RevokeByRefreshToken(ctx context.Context, refreshPlain string, now time.Time) error {
	if refreshPlain == "" {
		return nil
	}

	hashHex := HashRefreshToken(refreshPlain)

	if err := s.store.RevokeByHash(ctx, now, hashHex); err != nil {
		s.log.ErrorContext(ctx, "auth.session.revoke.fail", "err", err)
		return err
	}
	if err := s.registry.RevokeByHash(ctx, now, hashHex); err != nil {
		s.log.WarnContext(ctx, "auth.session.mirror.fail", "err", err)
	}
	return nil
}

// ListSessions returns the user's active sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	return s.registry.ListActive(ctx, userID, now)
}

// RevokeSession revokes one of the user's sessions by registry ID, killing
// both the mirror row and the refresh token it currently points at. Sessions
// owned by other users are indistinguishable from missing ones.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) error {
	sess, err := s.registry.GetOwned(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	if err := s.store.RevokeByHash(ctx, now, sess.TokenHash); err != nil {
		s.log.ErrorContext(ctx, "auth.session.revoke.fail", "err", err, "session_id", sessionID)
		return err
	}
	if err := s.registry.RevokeByID(ctx, now, sessionID); err != nil {
		s.log.WarnContext(ctx, "auth.session.mirror.fail", "err", err, "session_id", sessionID)
	}

	s.log.InfoContext(ctx, "auth.session.revoke.ok", "user_id", userID, "session_id", sessionID)
	return nil
}

// AccessTokens exposes the token manager for transport-layer verification.
func (s *Service) AccessTokens() AccessTokenManager {
	return s.tokens
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}
