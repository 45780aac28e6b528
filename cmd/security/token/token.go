package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// HMACEnvKey names the env var holding the refresh-token HMAC secret.
// #nosec G101 -- the name of the variable, not a credential.
const HMACEnvKey = "WARDEN_TOKEN_HMAC_KEY"

// HashSHA256Hex returns the SHA-256 digest of s, hex encoded.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns the HMAC-SHA256 digest of s under key, hex encoded.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

func envKey() string {
	return strings.TrimSpace(os.Getenv(HMACEnvKey))
}

// HMACKeyFromEnv loads the HMAC key and enforces a minimum length in bytes.
// A missing or blank key yields ErrHMACKeyMissing; a short one
// ErrHMACKeyTooShort. Startup validation goes through here.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := envKey()
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}

// HMACEnabled reports whether an HMAC key is configured at all. It does not
// check the key length; HMACKeyFromEnv does.
func HMACEnabled() bool {
	return envKey() != ""
}

// HashRefreshTokenHex digests a refresh token for server-side storage:
// HMAC-SHA256 under the configured key, or plain SHA-256 when no key is set.
// Switching the key orphans previously stored digests, which revokes every
// outstanding refresh token.
func HashRefreshTokenHex(token string) string {
	if key := envKey(); key != "" {
		return HashHMACSHA256Hex(token, []byte(key))
	}
	return HashSHA256Hex(token)
}
