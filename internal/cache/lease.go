package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease coordinates renders of one key across processes.
// Acquire never blocks on the holder; acquired=false means someone else holds it.
type Lease interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
	TTL() time.Duration
}

// NopLease always grants. Single-instance deployments rely on the
// in-process single-flight alone.
type NopLease struct{}

func (NopLease) Acquire(context.Context, string) (func(), bool, error) { return func() {}, true, nil }
func (NopLease) TTL() time.Duration                                    { return 0 }

// releaseScript deletes the lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease.
type RedisLease struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Lease = (*RedisLease)(nil)

func NewRedisLease(client redis.UniversalClient, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLease{client: client, ttl: ttl}
}

func (l *RedisLease) TTL() time.Duration { return l.ttl }

func (l *RedisLease) Acquire(ctx context.Context, key string) (func(), bool, error) {
	leaseKey := "lease:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, leaseKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{leaseKey}, token).Err()
	}
	return release, true, nil
}
