package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements UserStore over PostgreSQL (warden.users).
//
// Expected schema (managed externally, not by this service):
//
//	CREATE TABLE warden.users (
//	    id                text PRIMARY KEY,
//	    email             text NOT NULL UNIQUE,
//	    password_hash     text NOT NULL,
//	    totp_secret       text,
//	    totp_last_counter bigint NOT NULL DEFAULT 0,
//	    created_at        timestamptz NOT NULL
//	);
//
// The pgx pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "warden").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "warden",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return s.schema + ".users"
}

// GetUserAuthByEmail loads the credential view by normalized email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}

	var ua UserAuth
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, created_at, password_hash, totp_secret, totp_last_counter
		FROM `+s.table()+`
		WHERE email = $1
	`, email).Scan(
		&ua.User.ID,
		&ua.User.Email,
		&ua.User.CreatedAt,
		&ua.PasswordHash,
		&ua.TOTPSecret,
		&ua.TOTPLastCounter,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return UserAuth{}, err
	}

	return ua, nil
}

// GetUserByID loads the public view by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUserByID"

	if strings.TrimSpace(userID) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}

	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, created_at
		FROM `+s.table()+`
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, err
	}

	return u, nil
}

// AdvanceTOTPCounter persists a newly accepted TOTP counter.
// The conditional update makes replay rejection safe under concurrent logins:
// only the first request to present a given counter advances it.
func (s *PostgresStore) AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET totp_last_counter = $2
		WHERE id = $1 AND totp_last_counter < $2
	`, userID, counter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateUserInput is the input for CreateUser (seeding and tests only).
type CreateUserInput struct {
	Email      string
	Password   string
	TOTPSecret *string
	Now        time.Time
}

// CreateUser inserts a user row. Login is this service's job; account
// registration is not, so this exists for seeding and tests.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id := ulid.Make().String()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (id, email, password_hash, totp_secret, totp_last_counter, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, id, email, hash, in.TOTPSecret, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "email"}
		}
		return User{}, err
	}

	return User{ID: id, Email: email, CreatedAt: now}, nil
}
