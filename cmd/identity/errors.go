package identity

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a user row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed or missing input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned on uniqueness violations (duplicate email).
	ErrConflict = errors.New("conflict")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two are deliberately indistinguishable to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSecondFactorRequired is returned when the account has TOTP enabled and
	// no code was supplied. It is an outcome, not a failure; the client should
	// re-prompt without discarding the password.
	ErrSecondFactorRequired = errors.New("second factor required")

	// ErrSecondFactorInvalid is returned for a wrong or replayed TOTP code.
	ErrSecondFactorInvalid = errors.New("second factor invalid")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds when applicable.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsNotFound reports whether err is a not-found kind.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
