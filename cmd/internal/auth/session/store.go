package session

import (
	"context"
	"net"
	"time"
)

// ClientMeta describes the client that owns a session, for the UI-facing
// session list. It has no bearing on token validity.
type ClientMeta struct {
	IP        net.IP
	UserAgent string
}

// RefreshToken mirrors a warden.refresh_tokens row.
//
// A row is live (RevokedAt nil, ExpiresAt in the future), rotated-out or
// revoked (RevokedAt set), or expired. Rows are never deleted; revoked rows
// are what makes reuse detection possible.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	FamilyID  string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Live reports whether the token is usable at the given instant.
func (t RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Session mirrors a warden.sessions row: the UI-facing view of a live
// refresh token, joined by TokenHash.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	IP        net.IP
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// RefreshStore abstracts persistence for refresh-token state.
//
// Implementations must make Rotate linearizable per row via a conditional
// update (revoke WHERE id = X AND revoked_at IS NULL), not application-level
// locking, so it is safe across server processes.
type RefreshStore interface {
	// Create inserts a live token row starting a new family.
	Create(ctx context.Context, now time.Time, userID, tokenHash, familyID string, expiresAt time.Time) (RefreshToken, error)

	// FindByHash looks up a row by token hash regardless of revocation state.
	// Reuse detection requires seeing revoked rows, not just live ones.
	FindByHash(ctx context.Context, tokenHash string) (RefreshToken, error)

	// Rotate atomically revokes old and inserts a successor in the same
	// family. Returns ErrTokenRotated when old was no longer live, leaving
	// the store unchanged.
	Rotate(ctx context.Context, now time.Time, old RefreshToken, newTokenHash string, expiresAt time.Time) (RefreshToken, error)

	// RevokeFamily marks every row in the family revoked and returns the
	// family's token hashes so callers can revoke mirror rows. Used on
	// reuse detection.
	RevokeFamily(ctx context.Context, now time.Time, familyID string) ([]string, error)

	// RevokeByID revokes a single row (idempotent).
	RevokeByID(ctx context.Context, now time.Time, id string) error

	// RevokeByHash revokes a single row by token hash (idempotent).
	RevokeByHash(ctx context.Context, now time.Time, tokenHash string) error
}

// Registry abstracts persistence for the UI-facing session mirror.
//
// The registry is a read-model, not the security boundary: writes from the
// login/refresh paths are best-effort and callers tolerate failures.
type Registry interface {
	// Record inserts a session row for a fresh login.
	Record(ctx context.Context, now time.Time, userID, tokenHash string, meta ClientMeta, expiresAt time.Time) (string, error)

	// UpdateByHash re-points a session row at its rotated successor token.
	UpdateByHash(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error

	// ListActive returns the caller's non-revoked, non-expired sessions.
	ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error)

	// GetOwned loads a session by ID, returning ErrSessionNotFound unless it
	// exists and belongs to userID.
	GetOwned(ctx context.Context, sessionID, userID string) (Session, error)

	// RevokeByID marks a session row revoked (idempotent).
	RevokeByID(ctx context.Context, now time.Time, sessionID string) error

	// RevokeByHash marks a session row revoked by token hash (idempotent).
	RevokeByHash(ctx context.Context, now time.Time, tokenHash string) error
}
