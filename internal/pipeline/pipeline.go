// Package pipeline wires chain reads, document assembly and rendering into
// the render function used on a cache miss.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"token-renderer/internal/cache"
	"token-renderer/internal/chain"
	"token-renderer/internal/document"
	apperrors "token-renderer/internal/errors"
	"token-renderer/internal/render"
	"token-renderer/pkg/logging/logging"
)

// ScriptSource is satisfied by *chain.Reader.
type ScriptSource interface {
	FetchScriptBundle(ctx context.Context, contractAddr string, tokenID uint64) (chain.ScriptBundle, error)
}

type Config struct {
	LibraryDeps []string
	Marker      string
}

type Pipeline struct {
	source   ScriptSource
	renderer render.Renderer
	cfg      Config
}

func New(source ScriptSource, renderer render.Renderer, cfg Config) *Pipeline {
	return &Pipeline{source: source, renderer: renderer, cfg: cfg}
}

// Render runs chain read → assemble → snapshot for one token.
func (p *Pipeline) Render(ctx context.Context, req cache.TokenRequest) ([]byte, error) {
	logger := logging.L(ctx)

	chainStart := time.Now()
	bundle, err := p.source.FetchScriptBundle(ctx, req.ContractAddr, req.TokenID)
	if err != nil {
		return nil, err
	}
	chainLatency := time.Since(chainStart)

	doc, err := document.Assemble(document.Input{
		Script:      bundle.Script,
		Seed:        bundle.Seed,
		TokenID:     req.TokenID,
		LibraryDeps: p.cfg.LibraryDeps,
		Marker:      p.cfg.Marker,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindRender, "assemble document", err)
	}

	renderStart := time.Now()
	img, err := p.renderer.Render(ctx, doc)
	if err != nil {
		return nil, err
	}

	logger.Info("token rendered",
		zap.Uint64("token_id", req.TokenID),
		zap.Uint64("project_id", bundle.ProjectID),
		zap.Int("script_bytes", len(bundle.Script)),
		zap.Int("document_bytes", len(doc)),
		zap.Int("image_bytes", len(img)),
		zap.Duration("chain_latency", chainLatency),
		zap.Duration("render_latency", time.Since(renderStart)),
	)
	return img, nil
}
