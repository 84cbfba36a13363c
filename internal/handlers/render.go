package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"token-renderer/internal/cache"
	apperrors "token-renderer/internal/errors"
	"token-renderer/pkg/logging/logging"
)

// Artifacts is the cache the handler reads through.
type Artifacts interface {
	GetOrRender(ctx context.Context, req cache.TokenRequest, render cache.RenderFunc) ([]byte, error)
}

// RenderHandler holds dependencies for the render endpoints.
type RenderHandler struct {
	Cache        Artifacts
	ContractAddr string
	Render       cache.RenderFunc
}

func NewRenderHandler(c Artifacts, contractAddr string, render cache.RenderFunc) *RenderHandler {
	return &RenderHandler{
		Cache:        c,
		ContractAddr: contractAddr,
		Render:       render,
	}
}

// RenderQuery handles GET /render?tokenId=N.
func (h *RenderHandler) RenderQuery(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, r.URL.Query().Get("tokenId"))
}

// RenderPath handles GET /tokens/{tokenId}.png.
func (h *RenderHandler) RenderPath(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "tokenId"))
}

func (h *RenderHandler) serve(w http.ResponseWriter, r *http.Request, rawTokenID string) {
	ctx := r.Context()
	start := time.Now()

	tokenID, err := ParseTokenID(rawTokenID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	ctx = logging.WithFields(ctx, zap.Uint64("token_id", tokenID))
	logger := logging.L(ctx)

	req := cache.TokenRequest{ContractAddr: h.ContractAddr, TokenID: tokenID}
	img, err := h.Cache.GetOrRender(ctx, req, h.Render)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	logger.Info("render_served",
		zap.Int("bytes", len(img)),
		zap.Duration("total_latency", time.Since(start)),
	)

	w.Header().Set("Content-Type", cache.ContentTypePNG)
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// ParseTokenID validates a decimal, non-negative token id.
func ParseTokenID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperrors.New(apperrors.KindValidation, "tokenId is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindValidation, "tokenId must be a non-negative integer", err)
	}
	return id, nil
}

// writeError maps err to its status and writes a small JSON body.
func (h *RenderHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	fields := []zap.Field{
		zap.String("error_kind", string(apperrors.KindOf(err))),
		zap.Int("status", status),
		zap.Error(err),
	}

	logger := logging.L(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("render_failed", fields...)
	} else {
		logger.Warn("invalid request", fields...)
	}

	writeJSON(w, status, map[string]string{"error": apperrors.Code(err)})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
