package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresRegistry implements Registry using PostgreSQL (warden.sessions).
//
// Expected schema (managed externally, not by this service):
//
//	CREATE TABLE warden.sessions (
//	    id         text PRIMARY KEY,
//	    user_id    text NOT NULL,
//	    token_hash text NOT NULL,
//	    ip         inet,
//	    user_agent text,
//	    created_at timestamptz NOT NULL,
//	    expires_at timestamptz NOT NULL,
//	    revoked_at timestamptz
//	);
//	CREATE INDEX ON warden.sessions (user_id);
//	CREATE INDEX ON warden.sessions (token_hash);
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a Postgres-backed session registry.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

// Record inserts a session row for a fresh login and returns its ID.
func (r *PostgresRegistry) Record(ctx context.Context, now time.Time, userID, tokenHash string, meta ClientMeta, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if meta.IP != nil {
		ip = meta.IP
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO warden.sessions (
			id, user_id, token_hash, ip, user_agent, created_at, expires_at, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
	`, id, userID, tokenHash, ip, nullIfEmpty(meta.UserAgent), now, expiresAt)
	if err != nil {
		return "", err
	}

	return id, nil
}

// UpdateByHash re-points a session row at its rotated successor token.
// The row keeps its identity across rotations so the UI shows one session
// per login, not one per refresh.
func (r *PostgresRegistry) UpdateByHash(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE warden.sessions
		SET token_hash = $2, expires_at = $3
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, oldHash, newHash, expiresAt)
	return err
}

// ListActive returns the caller's non-revoked, non-expired sessions, newest first.
func (r *PostgresRegistry) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, token_hash, ip, user_agent, created_at, expires_at, revoked_at
		FROM warden.sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetOwned loads a session by ID, enforcing ownership.
func (r *PostgresRegistry) GetOwned(ctx context.Context, sessionID, userID string) (Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, ip, user_agent, created_at, expires_at, revoked_at
		FROM warden.sessions
		WHERE id = $1 AND user_id = $2
	`, sessionID, userID)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// RevokeByID marks a session row revoked (idempotent).
func (r *PostgresRegistry) RevokeByID(ctx context.Context, now time.Time, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE warden.sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, sessionID, now)
	return err
}

// RevokeByHash marks a session row revoked by token hash (idempotent).
func (r *PostgresRegistry) RevokeByHash(ctx context.Context, now time.Time, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE warden.sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, now)
	return err
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var ua *string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.IP,
		&ua,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if ua != nil {
		s.UserAgent = *ua
	}
	return s, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
