package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	apperrors "token-renderer/internal/errors"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Width != 2700 || cfg.Height != 2700 {
		t.Fatalf("unexpected viewport %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Marker != "__RENDERER_SELECTOR" {
		t.Fatalf("unexpected marker %q", cfg.Marker)
	}
	if cfg.Timeout != time.Minute {
		t.Fatalf("unexpected timeout %s", cfg.Timeout)
	}
}

func TestSelector(t *testing.T) {
	e := NewEngine(Config{Marker: "canvas-root"}, zaptest.NewLogger(t))
	if got := e.Selector(); got != "#canvas-root" {
		t.Fatalf("unexpected selector %q", got)
	}
}

func TestRenderUnreachableEndpointIsRenderError(t *testing.T) {
	e := NewEngine(Config{
		Endpoint: "ws://127.0.0.1:1/devtools/browser/none",
		Timeout:  5 * time.Second,
	}, zaptest.NewLogger(t))
	defer e.Close()

	_, err := e.Render(context.Background(), "<html></html>")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperrors.ErrRender) {
		t.Fatalf("expected render kind, got %v", err)
	}
}

func TestRenderExpiredContextReportsDeadline(t *testing.T) {
	e := NewEngine(Config{
		Endpoint: "ws://127.0.0.1:1/devtools/browser/none",
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := e.Render(ctx, "<html></html>")
	if !errors.Is(err, apperrors.ErrRender) {
		t.Fatalf("expected render kind, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestRenderSlotWaitHonoursTimeout(t *testing.T) {
	e := NewEngine(Config{
		Endpoint:      "ws://127.0.0.1:1/devtools/browser/none",
		Timeout:       50 * time.Millisecond,
		MaxConcurrent: 1,
	}, zaptest.NewLogger(t))

	// hold the only slot
	if err := e.slots.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer e.slots.Release(1)

	_, err := e.Render(context.Background(), "<html></html>")
	if !errors.Is(err, apperrors.ErrRender) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected render deadline error, got %v", err)
	}
}
