package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hash hashes a password using bcrypt and returns the encoded hash string.
// The configured cost is clamped up to MinCost; it is never lowered.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	cost := c.Cost
	if cost < MinCost {
		cost = MinCost
	}

	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	if !strings.HasPrefix(encodedHash, "$2") {
		return false, ErrInvalidHash
	}
	if _, err := bcrypt.Cost([]byte(encodedHash)); err != nil {
		return false, ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrHashTooShort):
		return false, ErrInvalidHash
	default:
		return false, err
	}
}
