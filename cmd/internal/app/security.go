package app

import (
	"errors"

	"warden/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-hashing policy at startup.
//
// Fail-fast is intentional: a production deployment that silently falls back
// to unkeyed hashing of refresh tokens would defeat the policy. Enforcement
// goes through the same module that performs hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes because
	// the key is used raw.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but WARDEN_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but WARDEN_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
