package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ReplayGuard makes password-reset and email-verify tokens single-use by
// recording spent token ids with a TTL equal to the token lifetime. After the
// TTL the token has expired anyway, so the record can lapse.
type ReplayGuard struct {
	client *redis.Client
	prefix string
}

func NewReplayGuard(client *redis.Client) *ReplayGuard {
	return &ReplayGuard{client: client, prefix: "used-token"}
}

// FirstUse marks the token id as spent and reports whether this call was the
// first to do so. Concurrent consumers race on a single SETNX, so exactly one
// wins.
func (g *ReplayGuard) FirstUse(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(tokenID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	return ok, nil
}

// Release forgets a spent mark. Used when the state change guarded by the
// token failed after the mark was taken, so the token stays usable.
func (g *ReplayGuard) Release(ctx context.Context, tokenID string) error {
	if err := g.client.Del(ctx, g.key(tokenID)).Err(); err != nil {
		return fmt.Errorf("release token mark: %w", err)
	}
	return nil
}

func (g *ReplayGuard) key(tokenID string) string {
	return g.prefix + ":" + tokenID
}
