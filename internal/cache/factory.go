package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"token-renderer/internal/config"
)

// NewStore builds the configured backend, optionally fronted by the hot tier,
// wrapped in logging. The returned closer releases what NewStore created.
func NewStore(ctx context.Context, cfg config.Config, redisClient redis.UniversalClient) (Store, func() error, error) {
	var (
		store  Store
		closer = func() error { return nil }
	)

	switch cfg.StoreBackend {
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis store: client is required")
		}
		store = NewRedisStore(redisClient, RedisConfig{Prefix: "artifact"})
	case "memory":
		store = NewMemoryStore()
	default:
		keyfile := ""
		if cfg.IsDev() {
			keyfile = cfg.StorageKeyfilePath
		}
		client, err := NewGCSClient(ctx, keyfile)
		if err != nil {
			return nil, nil, err
		}
		store = NewGCSStore(client, cfg.BucketName)
		closer = client.Close
	}

	backend := cfg.StoreBackend
	if cfg.HotCacheMaxBytes > 0 {
		hot, err := NewHotStore(store, cfg.HotCacheMaxBytes)
		if err != nil {
			_ = closer()
			return nil, nil, err
		}
		inner := closer
		closer = func() error {
			_ = hot.Close()
			return inner()
		}
		store = hot
		backend += "+hot"
	}

	return NewLoggingStore(store, backend), closer, nil
}

// NewLease builds the configured cross-instance lease.
func NewLease(cfg config.Config, redisClient redis.UniversalClient) (Lease, error) {
	switch cfg.LeaseBackend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis lease: client is required")
		}
		return NewRedisLease(redisClient, cfg.LeaseTTL), nil
	default:
		return NopLease{}, nil
	}
}
