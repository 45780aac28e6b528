package identity

import (
	"context"
	"time"
)

// User is the minimal identity surface exposed to API responses.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// UserAuth is the credential view of a user, loaded for login only.
// It never leaves the login path.
type UserAuth struct {
	User         User
	PasswordHash string

	// TOTPSecret is the base32-encoded shared secret, nil when the account
	// has no second factor enrolled.
	TOTPSecret *string

	// TOTPLastCounter is the highest TOTP time-step counter ever accepted for
	// this user. Accepting a counter <= this value would be a replay.
	TOTPLastCounter int64
}

// TOTPEnabled reports whether the account has a second factor enrolled.
func (u UserAuth) TOTPEnabled() bool {
	return u.TOTPSecret != nil && *u.TOTPSecret != ""
}

// UserStore abstracts user persistence for the login path.
type UserStore interface {
	// GetUserAuthByEmail loads the credential view by normalized email.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// GetUserByID loads the public view by ID.
	GetUserByID(ctx context.Context, userID string) (User, error)

	// AdvanceTOTPCounter persists a newly accepted TOTP counter.
	// Returns false when the stored counter is already >= counter, which means
	// the code (or an earlier step) was already used, i.e. a replay.
	AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error)
}
