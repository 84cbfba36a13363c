// Package render snapshots assembled documents with headless Chrome.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "token-renderer/internal/errors"
	"token-renderer/internal/metrics"
)

// Renderer turns a document into PNG bytes of its marker element.
type Renderer interface {
	Render(ctx context.Context, document string) ([]byte, error)
}

// Config for the engine.
type Config struct {
	// Endpoint is a DevTools websocket URL. Empty launches a local headless Chrome.
	Endpoint string
	Width    int64
	Height   int64
	Marker   string
	Timeout  time.Duration // whole render; default 60s

	// MaxConcurrent caps simultaneous renders; 0 means unlimited.
	MaxConcurrent int64

	// ExecOptions override the local launch flags (ignored with Endpoint).
	ExecOptions []chromedp.ExecAllocatorOption
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c Config) WithDefaults() Config {
	cfg := c
	if cfg.Width <= 0 {
		cfg.Width = 2700
	}
	if cfg.Height <= 0 {
		cfg.Height = 2700
	}
	if cfg.Marker == "" {
		cfg.Marker = "__RENDERER_SELECTOR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return cfg
}

// Engine is safe for concurrent use. Each Render gets its own tab.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	slots  *semaphore.Weighted // nil when unlimited

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

var _ Renderer = (*Engine)(nil)

// NewEngine creates an engine. The local browser, if any, starts lazily.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg.WithDefaults(),
		logger: logger.Named("render"),
	}
	if e.cfg.MaxConcurrent > 0 {
		e.slots = semaphore.NewWeighted(e.cfg.MaxConcurrent)
	}
	return e
}

// Selector is the CSS selector of the capture target.
func (e *Engine) Selector() string {
	return "#" + e.cfg.Marker
}

// Render loads document into a fresh tab at the configured viewport, waits for
// the marker element and returns a PNG clipped to it.
func (e *Engine) Render(ctx context.Context, document string) (_ []byte, err error) {
	ctx, span := otel.Tracer("token-renderer/render").Start(ctx, "render.Render")
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RenderDurationSeconds.WithLabelValues(result).Observe(time.Since(start).Seconds())
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	// queueing for a slot counts against the render timeout
	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return nil, apperrors.Wrap(apperrors.KindRender, "wait for render slot", e.withDeadline(ctx, err))
		}
		defer e.slots.Release(1)
	}

	tabCtx, release, err := e.session(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindRender, "acquire browser session", e.withDeadline(ctx, err))
	}
	defer release()

	var buf []byte
	if err := chromedp.Run(tabCtx, e.tasks(document, &buf)); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRender, "snapshot", e.withDeadline(ctx, err))
	}
	if len(buf) == 0 {
		return nil, apperrors.New(apperrors.KindRender, "snapshot: empty capture")
	}

	e.logger.Debug("render complete",
		zap.Int("bytes", len(buf)),
		zap.Duration("duration", time.Since(start)),
	)
	return buf, nil
}

func (e *Engine) tasks(document string, buf *[]byte) chromedp.Tasks {
	sel := e.Selector()
	var loaded bool
	return chromedp.Tasks{
		chromedp.EmulateViewport(e.cfg.Width, e.cfg.Height),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
		chromedp.Poll(`document.readyState === "complete"`, &loaded, chromedp.WithPollingInterval(50*time.Millisecond)),
		chromedp.WaitReady(sel, chromedp.ByQuery),
		chromedp.Screenshot(sel, buf, chromedp.ByQuery),
	}
}

// session returns a tab context and the func that closes it.
// Remote endpoints get a fresh connection per render; a local browser is
// launched once and shared.
func (e *Engine) session(ctx context.Context) (context.Context, func(), error) {
	if e.cfg.Endpoint != "" {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, e.cfg.Endpoint, chromedp.NoModifyURL)
		tabCtx, tabCancel := chromedp.NewContext(allocCtx)
		return tabCtx, func() {
			tabCancel()
			allocCancel()
		}, nil
	}

	browserCtx, err := e.localBrowser()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	return tabCtx, func() {
		stop()
		tabCancel()
	}, nil
}

func (e *Engine) localBrowser() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return e.browserCtx, nil
	}

	opts := e.cfg.ExecOptions
	if len(opts) == 0 {
		opts = chromedp.DefaultExecAllocatorOptions[:]
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	e.logger.Info("local browser launched")
	e.browserCtx, e.browserCancel, e.allocCancel = browserCtx, browserCancel, allocCancel
	return browserCtx, nil
}

// withDeadline makes a timeout visible in the chain even when chromedp only
// reports the cancelled tab.
func (e *Engine) withDeadline(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Close shuts down the local browser if one was launched.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.allocCancel()
		e.browserCtx, e.browserCancel, e.allocCancel = nil, nil, nil
	}
	return nil
}
