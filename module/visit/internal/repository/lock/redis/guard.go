package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

const keyPrefix = "visit_attempt:"

// releaseScript deletes the key only while it still holds the caller's token.
// KEYS[1] = attempt key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// AttemptGuard holds one Redis key per live (user, spot) attempt so that
// several server instances never run overlapping attempts. The TTL bounds
// how long a crashed instance can block a key.
type AttemptGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAttemptGuard keeps each claim for at least ttl, longer when the attempt
// itself can outlive it.
func NewAttemptGuard(client *redis.Client, ttl time.Duration) *AttemptGuard {
	return &AttemptGuard{client: client, ttl: ttl}
}

func (g *AttemptGuard) Acquire(ctx context.Context, key domain.AttemptKey, token string, hold time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, redisKey(key), token, g.expiry(hold)).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (g *AttemptGuard) Release(ctx context.Context, key domain.AttemptKey, token string) error {
	if err := releaseScript.Run(ctx, g.client, []string{redisKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (g *AttemptGuard) expiry(hold time.Duration) time.Duration {
	if hold > g.ttl {
		return hold
	}
	return g.ttl
}

// redisKey length-prefixes the user ID so IDs containing the separator
// cannot collide.
func redisKey(key domain.AttemptKey) string {
	return fmt.Sprintf("%s%d:%s:%s", keyPrefix, len(key.UserID), key.UserID, key.SpotID)
}
