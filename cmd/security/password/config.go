package password

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinCost is the weakest bcrypt cost this package accepts.
// Anything below it is too cheap against offline brute force.
const MinCost = 12

// Policy controls password validation boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Cost   int
	Policy Policy
}

// DefaultConfig returns a baseline suitable for interactive logins.
// Values are intentionally conservative and can be overridden via env.
func DefaultConfig() Config {
	return Config{
		Cost: MinCost,
		Policy: Policy{
			MinLength:      8,
			MaxLength:      72, // bcrypt input limit
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - WARDEN_PASSWORD_MIN_LEN
// - WARDEN_PASSWORD_MAX_LEN
// - WARDEN_PASSWORD_REJECT_VERY_WEAK (true/false)
// - WARDEN_BCRYPT_COST
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("WARDEN_PASSWORD_MIN_LEN"); ok {
		n, err := atoiBounded(v, 1, 72)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("WARDEN_PASSWORD_MAX_LEN"); ok {
		n, err := atoiBounded(v, 1, 72)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("WARDEN_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("WARDEN_BCRYPT_COST"); ok {
		n, err := atoiBounded(v, MinCost, bcrypt.MaxCost)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_BCRYPT_COST: %w", err)
		}
		cfg.Cost = n
	}

	// Final sanity.
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiBounded(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}
