package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pairScript pops the oldest waiter that is not the caller, or parks the
// caller. Running it as one script keeps competing workers from pairing the
// same waiter twice.
var pairScript = redis.NewScript(`
local waiting = redis.call('ZRANGE', KEYS[1], 0, 1)
for _, member in ipairs(waiting) do
	if member ~= ARGV[1] then
		redis.call('ZREM', KEYS[1], member)
		return member
	end
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return false
`)

// RedisWaitingPool keeps one ZSET per bucket, scored by join time.
type RedisWaitingPool struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisWaitingPool stores buckets under prefix. A bucket nobody touches
// for ttl expires on its own; ttl <= 0 keeps buckets until they empty.
func NewRedisWaitingPool(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisWaitingPool {
	return &RedisWaitingPool{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *RedisWaitingPool) key(bucket string) string {
	return p.prefix + bucket
}

func (p *RedisWaitingPool) Pair(ctx context.Context, bucket, userID string) (string, bool, error) {
	partner, err := pairScript.Run(ctx, p.rdb,
		[]string{p.key(bucket)},
		userID, time.Now().UnixMilli(), p.ttl.Milliseconds(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("pair %s in %s: %w", userID, bucket, classify(err))
	}
	return partner, true, nil
}

func (p *RedisWaitingPool) Leave(ctx context.Context, bucket, userID string) error {
	if err := p.rdb.ZRem(ctx, p.key(bucket), userID).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Waiting lists the members of bucket, oldest first.
func (p *RedisWaitingPool) Waiting(ctx context.Context, bucket string) ([]string, error) {
	return p.rdb.ZRange(ctx, p.key(bucket), 0, -1).Result()
}
