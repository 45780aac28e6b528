package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Lockout counters and user lookups must always key on the normalized form,
// otherwise case variants would bypass the counter.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
