package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"token-renderer/internal/cache"
	"token-renderer/internal/chain"
	"token-renderer/internal/config"
	"token-renderer/internal/handlers"
	"token-renderer/internal/httpserver"
	"token-renderer/internal/metrics"
	"token-renderer/internal/pipeline"
	"token-renderer/internal/render"
	"token-renderer/internal/telemetry"
	"token-renderer/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("renderer exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		logging.DefaultLogger().Error("config load failed", zap.Error(err))
		return err
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("contract", cfg.ContractAddr),
		zap.String("file_prefix", cfg.FilePrefix),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lease_backend", cfg.LeaseBackend),
		zap.Int64("hot_cache_max_bytes", cfg.HotCacheMaxBytes),
		zap.Bool("remote_browser", cfg.BrowserEndpoint() != ""),
		zap.Duration("render_timeout", cfg.RenderTimeout),
		zap.Duration("request_timeout", cfg.RequestTimeout),
	)

	ctx := context.Background()

	// ----- Tracing -----
	shutdownTracing, err := telemetry.Setup(ctx, "token-renderer", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Error("otel setup failed", zap.Error(err))
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// ----- Redis client (only if needed) -----
	var redisClient redis.UniversalClient
	if cfg.NeedsRedis() {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			_ = client.Close()
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
		redisClient = client
		defer client.Close()
	}

	// ----- Artifact store + lease -----
	store, closeStore, err := cache.NewStore(ctx, cfg, redisClient)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		return err
	}
	defer closeStore()

	lease, err := cache.NewLease(cfg, redisClient)
	if err != nil {
		return err
	}

	artifacts := cache.NewArtifactCache(store, cache.ArtifactConfig{
		Prefix:       cfg.FilePrefix,
		Lease:        lease,
		PollInterval: cfg.LeasePollInterval,

		FlightTimeout: cfg.RequestTimeout,
	})

	// ----- Chain reader -----
	ethClient, err := chain.Dial(ctx, cfg.RPCEndpoint())
	if err != nil {
		logger.Error("rpc dial failed", zap.Error(err))
		return err
	}
	defer ethClient.Close()

	reader, err := chain.NewReader(chain.Config{
		CallTimeout:     cfg.ChainCallTimeout,
		MaxScriptChunks: cfg.MaxScriptChunks,
	}, ethClient, logger)
	if err != nil {
		return err
	}

	// ----- Render engine -----
	engine := render.NewEngine(render.Config{
		Endpoint: cfg.BrowserEndpoint(),
		Width:    cfg.ViewportWidth,
		Height:   cfg.ViewportHeight,
		Marker:   cfg.Selector,
		Timeout:  cfg.RenderTimeout,

		MaxConcurrent: cfg.MaxRenders,
	}, logger)
	defer engine.Close()

	p := pipeline.New(reader, engine, pipeline.Config{
		LibraryDeps: cfg.LibraryDeps,
		Marker:      cfg.Selector,
	})

	// ----- Handlers -----
	renderHandler := handlers.NewRenderHandler(artifacts, cfg.ContractAddr, p.Render)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, renderHandler, cfg.RequestTimeout)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting renderer",
		zap.String("addr", srv.Addr),
		zap.String("store_backend", cfg.StoreBackend),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
