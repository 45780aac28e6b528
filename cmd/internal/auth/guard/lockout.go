package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrGuardUnavailable indicates the Redis backend is unreachable. Callers
// treat it as "no lockout in effect".
var ErrGuardUnavailable = errors.New("guard backend unavailable")

// AccountLockedError reports an active lockout window for a login identifier.
type AccountLockedError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

// LockoutConfig tunes the brute-force counter.
type LockoutConfig struct {
	// MaxAttempts is the number of consecutive failures before a lockout.
	MaxAttempts int

	// Window bounds both the failure-counting window and the lockout
	// duration. Every failure resets the counter key's TTL to Window, so
	// the window rolls with the most recent failure and a lockout lasts
	// Window after the attempt that crossed the threshold.
	Window time.Duration
}

// DefaultLockoutConfig returns the production defaults.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}
}

// Lockout counts failed login attempts per normalized identifier in Redis.
//
// The count lives under a single key whose TTL is refreshed on every failure,
// so the window rolls with the latest attempt and no cleanup job is needed.
type Lockout struct {
	rdb redis.UniversalClient
	cfg LockoutConfig
	log *slog.Logger
}

// NewLockout creates a lockout guard. A nil client disables the guard
// entirely; every check reports no lockout.
func NewLockout(rdb redis.UniversalClient, cfg LockoutConfig, log *slog.Logger) *Lockout {
	if log == nil {
		log = slog.Default()
	}
	return &Lockout{rdb: rdb, cfg: cfg, log: log}
}

func lockoutKey(identifier string) string {
	return "lockout:" + identifier
}

// Check returns an *AccountLockedError when the identifier is inside an
// active lockout window. Redis errors are logged and swallowed: the guard
// fails open.
func (l *Lockout) Check(ctx context.Context, identifier string) error {
	if l.rdb == nil || identifier == "" {
		return nil
	}

	count, err := l.rdb.Get(ctx, lockoutKey(identifier)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		l.log.WarnContext(ctx, "auth.guard.lockout.unavailable", "err", err)
		return nil
	}
	if count < int64(l.cfg.MaxAttempts) {
		return nil
	}

	retry := l.cfg.Window
	if ttl, err := l.rdb.TTL(ctx, lockoutKey(identifier)).Result(); err == nil && ttl > 0 {
		retry = ttl
	}

	return &AccountLockedError{Identifier: identifier, RetryAfter: retry}
}

// RecordFailure increments the failure counter and reports whether the
// threshold has now been reached. The TTL is reset on every failure so the
// cooldown runs a full Window from the latest attempt.
func (l *Lockout) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	if l.rdb == nil || identifier == "" {
		return false, nil
	}

	count, err := l.rdb.Incr(ctx, lockoutKey(identifier)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if err := l.rdb.Expire(ctx, lockoutKey(identifier), l.cfg.Window).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}

	return count >= int64(l.cfg.MaxAttempts), nil
}

// FailureCount returns the current counter value, zero when absent.
func (l *Lockout) FailureCount(ctx context.Context, identifier string) (int, error) {
	if l.rdb == nil || identifier == "" {
		return 0, nil
	}

	count, err := l.rdb.Get(ctx, lockoutKey(identifier)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return int(count), nil
}

// Clear resets the counter after a successful login.
func (l *Lockout) Clear(ctx context.Context, identifier string) error {
	if l.rdb == nil || identifier == "" {
		return nil
	}

	if err := l.rdb.Del(ctx, lockoutKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

// MaxAttempts exposes the configured threshold for transport-layer hints.
func (l *Lockout) MaxAttempts() int {
	return l.cfg.MaxAttempts
}

// Window exposes the configured lockout window.
func (l *Lockout) Window() time.Duration {
	return l.cfg.Window
}
