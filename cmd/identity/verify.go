package identity

import (
	"context"
	"time"
)

// dummyBcryptHash is a fixed valid-format hash compared against when the email
// is unknown, so the response time does not reveal whether the account exists.
// The comparison result is always discarded. Cost 12 matches the production floor.
const dummyBcryptHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// VerifyCredentials checks an email/password pair and, when the account has a
// second factor enrolled, the TOTP code. It is the single credential decision
// point for login.
//
// Outcomes (errors.Is):
//   - ErrInvalidCredentials: unknown email or wrong password, indistinguishable.
//   - ErrSecondFactorRequired: password correct, TOTP enrolled, no code supplied.
//   - ErrSecondFactorInvalid: wrong or replayed TOTP code.
//
// Any other error is an infrastructure failure and must not be treated as a
// credential decision.
func VerifyCredentials(ctx context.Context, store UserStore, email, passwordPlain, totpCode string, now time.Time) (User, error) {
	const op = "identity.VerifyCredentials"

	ua, err := store.GetUserAuthByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			// Timing resistance: burn a bcrypt compare for unknown accounts too.
			_, _ = VerifyPassword(passwordPlain, dummyBcryptHash)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return User{}, err
	}

	ok, err := VerifyPassword(passwordPlain, ua.PasswordHash)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if ua.TOTPEnabled() {
		if totpCode == "" {
			return User{}, OpError{Op: op, Kind: ErrSecondFactorRequired}
		}

		matched, counter, err := VerifyTOTP(*ua.TOTPSecret, totpCode, now)
		if err != nil {
			return User{}, err
		}
		if !matched {
			return User{}, OpError{Op: op, Kind: ErrSecondFactorInvalid}
		}

		advanced, err := store.AdvanceTOTPCounter(ctx, ua.User.ID, counter)
		if err != nil {
			return User{}, err
		}
		if !advanced {
			// Counter already used: replay of a previously accepted code.
			return User{}, OpError{Op: op, Kind: ErrSecondFactorInvalid}
		}
	}

	return ua.User, nil
}
