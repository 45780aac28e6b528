package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements RefreshStore using PostgreSQL (warden.refresh_tokens).
//
// Expected schema (managed externally, not by this service):
//
//	CREATE TABLE warden.refresh_tokens (
//	    id         text PRIMARY KEY,
//	    user_id    text NOT NULL,
//	    token_hash text NOT NULL UNIQUE,
//	    family_id  text NOT NULL,
//	    expires_at timestamptz NOT NULL,
//	    revoked_at timestamptz,
//	    created_at timestamptz NOT NULL
//	);
//	CREATE INDEX ON warden.refresh_tokens (family_id);
//
// Rows are never deleted; a revoked row is the evidence reuse detection runs on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh-token store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a live token row and returns it.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID, tokenHash, familyID string, expiresAt time.Time) (RefreshToken, error) {
	id := ulid.Make().String()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO warden.refresh_tokens (
			id, user_id, token_hash, family_id, expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, NULL, $6)
	`, id, userID, tokenHash, familyID, expiresAt, now)
	if err != nil {
		return RefreshToken{}, err
	}

	return RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		FamilyID:  familyID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// FindByHash loads a row by token hash in any revocation state.
func (s *PostgresStore) FindByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var row RefreshToken

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, family_id, expires_at, revoked_at, created_at
		FROM warden.refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&row.ID,
		&row.UserID,
		&row.TokenHash,
		&row.FamilyID,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrTokenNotFound
	}
	if err != nil {
		return RefreshToken{}, err
	}

	return row, nil
}

// Rotate revokes old and inserts its successor in the same family.
//
// Rotation safety rests on the conditional revoke: of two concurrent requests
// presenting the same live token, exactly one matches the row while
// revoked_at is still NULL. The loser sees ErrTokenRotated and must not get a
// successor. No advisory locks, so this holds across server processes.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, old RefreshToken, newTokenHash string, expiresAt time.Time) (RefreshToken, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RefreshToken{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE warden.refresh_tokens
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, old.ID, now)
	if err != nil {
		return RefreshToken{}, err
	}
	if tag.RowsAffected() == 0 {
		return RefreshToken{}, ErrTokenRotated
	}

	id := ulid.Make().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO warden.refresh_tokens (
			id, user_id, token_hash, family_id, expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, NULL, $6)
	`, id, old.UserID, newTokenHash, old.FamilyID, expiresAt, now)
	if err != nil {
		return RefreshToken{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RefreshToken{}, err
	}

	return RefreshToken{
		ID:        id,
		UserID:    old.UserID,
		TokenHash: newTokenHash,
		FamilyID:  old.FamilyID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// RevokeFamily marks every row in the family revoked (idempotent) and
// returns the family's token hashes.
func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, familyID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE warden.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE family_id = $1
		RETURNING token_hash
	`, familyID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// RevokeByID revokes a single row (idempotent).
func (s *PostgresStore) RevokeByID(ctx context.Context, now time.Time, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE warden.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, now)
	return err
}

// RevokeByHash revokes a single row by token hash (idempotent).
func (s *PostgresStore) RevokeByHash(ctx context.Context, now time.Time, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE warden.refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, now)
	return err
}
