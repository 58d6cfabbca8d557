package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/class-schedule/internal/common/crypto"
)

const denylistKeyPrefix = "denylist:"

// RedisRevokedTokenRepository stores denylist entries as keys that expire with
// the token, so there is nothing to sweep.
type RedisRevokedTokenRepository struct {
	client redis.UniversalClient
	clock  clock.Clock
}

// extendDenylistEntry sets the entry unless it already outlives the requested
// TTL. PTTL is -2 for a missing key and -1 for one without expiry.
var extendDenylistEntry = redis.NewScript(`
local current = redis.call("PTTL", KEYS[1])
if current == -1 or current >= tonumber(ARGV[2]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

func NewRedisRevokedTokenRepository(client redis.UniversalClient, c clock.Clock) *RedisRevokedTokenRepository {
	return &RedisRevokedTokenRepository{client: client, clock: c}
}

func (r *RedisRevokedTokenRepository) Revoke(ctx context.Context, token string, userID domain.UserID, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		// Already expired tokens are rejected by verification anyway.
		return false, nil
	}

	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	key := denylistKeyPrefix + commoncrypto.HashToken(token)
	if err := extendDenylistEntry.Run(ctx, r.client, []string{key}, string(userID), ms).Err(); err != nil {
		return false, fmt.Errorf("failed to insert denylist entry: %w", err)
	}
	return true, nil
}

func (r *RedisRevokedTokenRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, denylistKeyPrefix+commoncrypto.HashToken(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check denylist entry: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRevokedTokenRepository) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

var _ RevokedTokenRepository = (*RedisRevokedTokenRepository)(nil)
