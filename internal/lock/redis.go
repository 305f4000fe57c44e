package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "greensalary:lock:"

// releaseScript deletes the key only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key only while it still belongs to the caller.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, name, holder string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: keyPrefix + name, holder: holder, ttl: defaultTTL(ttl)}
}

func (l *RedisLease) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLease) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis renew %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLease) TTL() time.Duration {
	return l.ttl
}

func (l *RedisLease) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s: %w", l.key, err)
	}
	return nil
}
