package identity

import (
	"errors"

	"warden/cmd/security/password"
)

// HashPassword returns a bcrypt hash of the given password.
// Policy (length, cost) comes from security/password env config; identity must
// not drift from it, so this is a thin delegation.
func HashPassword(passwordPlain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(passwordPlain)
}

// VerifyPassword checks a password against a bcrypt hash.
func VerifyPassword(passwordPlain, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}

	ok, err := cfg.Verify(encodedHash, passwordPlain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, errors.New("invalid bcrypt hash format")
		}
		return false, err
	}
	return ok, nil
}
