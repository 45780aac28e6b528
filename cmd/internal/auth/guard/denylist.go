package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records access-token IDs revoked before their natural expiry,
// so logout takes effect immediately instead of after the access TTL.
//
// Entries carry the token's remaining lifetime as their TTL, which bounds
// the denylist size by the access-token TTL. An expired entry no longer
// matters since the token itself is rejected by then.
type Denylist struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

// NewDenylist creates a denylist. A nil client disables it; Contains always
// reports false.
func NewDenylist(rdb redis.UniversalClient, log *slog.Logger) *Denylist {
	if log == nil {
		log = slog.Default()
	}
	return &Denylist{rdb: rdb, log: log}
}

func denyKey(tokenID string) string {
	return "deny:" + tokenID
}

// Add records a token ID for the given remaining lifetime. A non-positive
// TTL means the token has already expired and nothing needs recording.
func (d *Denylist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if d.rdb == nil || tokenID == "" || ttl <= 0 {
		return nil
	}

	if err := d.rdb.Set(ctx, denyKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

// Contains reports whether the token ID has been denylisted. Redis errors
// are logged and treated as "not denylisted": a short-lived token slipping
// through during an outage beats rejecting every authenticated request.
func (d *Denylist) Contains(ctx context.Context, tokenID string) bool {
	if d.rdb == nil || tokenID == "" {
		return false
	}

	n, err := d.rdb.Exists(ctx, denyKey(tokenID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		d.log.WarnContext(ctx, "auth.guard.denylist.unavailable", "err", err)
		return false
	}
	return n > 0
}
