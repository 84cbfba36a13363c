package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"token-renderer/internal/metrics"
	"token-renderer/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend string
}

var _ Store = (*LoggingStore)(nil)

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store, backend string) Store {
	return &LoggingStore{inner: inner, backend: backend}
}

func (c *LoggingStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := c.inner.Exists(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	c.log(ctx, "store_exists", key, result, start, err)
	return ok, err
}

func (c *LoggingStore) Download(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := c.inner.Download(ctx, key)

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.log(ctx, "store_download", key, result, start, err, zap.Int("bytes", len(data)))
	return data, err
}

func (c *LoggingStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := c.inner.Upload(ctx, key, data, contentType)

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.log(ctx, "store_upload", key, result, start, err,
		zap.Int("bytes", len(data)),
		zap.String("content_type", contentType),
	)
	return err
}

func (c *LoggingStore) log(ctx context.Context, op, key, result string, start time.Time, err error, extra ...zap.Field) {
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	metrics.StoreOpsTotal.WithLabelValues(c.backend, op, result).Inc()

	fields := []zap.Field{
		zap.String("store_backend", c.backend),
		zap.String("object_key", key),
		zap.String("store_result", result),
		zap.Float64("latency_ms", latencyMs),
	}
	if k, ok := ParseKey(key); ok {
		fields = append(fields,
			zap.String("contract", k.ContractAddr),
			zap.Uint64("token_id", k.TokenID),
		)
	}
	fields = append(fields, extra...)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error(op, append(fields, zap.Error(err))...)
		return
	}
	logger.Debug(op, fields...)
}
