package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "token-renderer/internal/errors"
	"token-renderer/internal/metrics"
	"token-renderer/pkg/logging/logging"
)

// RenderFunc produces the PNG for a token on a cache miss.
type RenderFunc func(ctx context.Context, req TokenRequest) ([]byte, error)

// ArtifactConfig tunes the artifact cache.
type ArtifactConfig struct {
	Prefix       string
	Lease        Lease         // nil => NopLease
	PollInterval time.Duration // how often lease waiters re-check the store; default 500ms

	// FlightTimeout bounds the shared render-and-store work of one miss,
	// independent of the waiters' deadlines. Default 2m.
	FlightTimeout time.Duration
}

// ArtifactCache is the cache-aside layer in front of the render pipeline.
type ArtifactCache struct {
	store        Store
	prefix       string
	lease        Lease
	pollInterval time.Duration
	flightTTL    time.Duration
	group        singleflight.Group
}

// NewArtifactCache creates the cache over store.
func NewArtifactCache(store Store, cfg ArtifactConfig) *ArtifactCache {
	lease := cfg.Lease
	if lease == nil {
		lease = NopLease{}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	flight := cfg.FlightTimeout
	if flight <= 0 {
		flight = 2 * time.Minute
	}
	return &ArtifactCache{
		store:        store,
		prefix:       cfg.Prefix,
		lease:        lease,
		pollInterval: poll,
		flightTTL:    flight,
	}
}

// Key returns the object key for req.
func (c *ArtifactCache) Key(req TokenRequest) string {
	return KeyFor(c.prefix, req).String()
}

// GetOrRender returns the stored artifact for req, rendering and storing it
// first when absent. Concurrent misses on one key share a single render; the
// shared render is not cancelled when one waiter gives up, but it ends at
// FlightTimeout so a stuck flight releases its key.
func (c *ArtifactCache) GetOrRender(ctx context.Context, req TokenRequest, render RenderFunc) ([]byte, error) {
	key := c.Key(req)
	ctx, span := otel.Tracer("token-renderer/cache").Start(ctx, "cache.GetOrRender")
	span.SetAttributes(attribute.String("cache_key", key))
	defer span.End()

	logger := logging.L(ctx).With(zap.String("cache_key", key))

	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.KindCacheIO, "check artifact", err)
	}
	if exists {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return c.download(ctx, key)
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	span.SetAttributes(attribute.Bool("cache_hit", false))

	ch := c.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTTL)
		defer cancel()
		return c.renderAndStore(flightCtx, key, req, render)
	})

	select {
	case <-ctx.Done():
		logger.Warn("gave up waiting for render", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.RenderSharedTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *ArtifactCache) renderAndStore(ctx context.Context, key string, req TokenRequest, render RenderFunc) ([]byte, error) {
	logger := logging.L(ctx).With(zap.String("cache_key", key))

	release, acquired, err := c.lease.Acquire(ctx, key)
	switch {
	case err != nil:
		// the lease only saves duplicate work; render without it
		logger.Warn("render lease unavailable", zap.Error(err))
	case !acquired:
		data, ok, err := c.awaitPeer(ctx, key)
		if err != nil || ok {
			return data, err
		}
		logger.Warn("lease holder did not publish in time, rendering locally")
	default:
		defer release()
	}

	// Another request or instance may have stored it since the first probe.
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCacheIO, "check artifact", err)
	}
	if exists {
		return c.download(ctx, key)
	}

	start := time.Now()
	data, err := render(ctx, req)
	if err != nil {
		logger.Error("render failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.KindRender, "render produced no bytes")
	}

	if err := c.store.Upload(ctx, key, data, ContentTypePNG); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCacheIO, "store artifact", err)
	}

	logger.Info("artifact rendered",
		zap.Int("bytes", len(data)),
		zap.Duration("render_latency", time.Since(start)),
	)
	return data, nil
}

// awaitPeer polls the store while another instance holds the lease.
// ok=false means the lease TTL passed without an artifact appearing.
func (c *ArtifactCache) awaitPeer(ctx context.Context, key string) ([]byte, bool, error) {
	deadline := time.NewTimer(c.lease.TTL())
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, false, nil
		case <-ticker.C:
			exists, err := c.store.Exists(ctx, key)
			if err != nil {
				return nil, false, apperrors.Wrap(apperrors.KindCacheIO, "check artifact", err)
			}
			if exists {
				data, err := c.download(ctx, key)
				return data, err == nil, err
			}
		}
	}
}

func (c *ArtifactCache) download(ctx context.Context, key string) ([]byte, error) {
	data, err := c.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.KindCacheIO, "artifact vanished after existence check", err)
		}
		return nil, apperrors.Wrap(apperrors.KindCacheIO, "download artifact", err)
	}
	return data, nil
}
