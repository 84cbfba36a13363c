package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"token-renderer/internal/handlers"
	"token-renderer/internal/metrics"
	"token-renderer/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, renderHandler *handlers.RenderHandler, requestTimeout time.Duration) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	// server span; chain and render spans hang off it
	r.Use(otelhttp.NewMiddleware("token-renderer"))

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())              // panic recovery
	r.Use(middleware.Timeout(requestTimeout)) // request deadline

	// routes
	r.Get("/render", renderHandler.RenderQuery)
	r.Get("/tokens/{tokenId}.png", renderHandler.RenderPath)

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
