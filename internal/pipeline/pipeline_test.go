package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"token-renderer/internal/cache"
	"token-renderer/internal/chain"
	apperrors "token-renderer/internal/errors"
)

type fakeSource struct {
	bundle chain.ScriptBundle
	err    error
	calls  int
}

func (f *fakeSource) FetchScriptBundle(_ context.Context, _ string, tokenID uint64) (chain.ScriptBundle, error) {
	f.calls++
	if f.err != nil {
		return chain.ScriptBundle{}, f.err
	}
	b := f.bundle
	b.TokenID = tokenID
	return b, nil
}

type fakeRenderer struct {
	doc   string
	out   []byte
	err   error
	calls int
}

func (f *fakeRenderer) Render(_ context.Context, doc string) ([]byte, error) {
	f.calls++
	f.doc = doc
	return f.out, f.err
}

func TestRenderAssemblesChainData(t *testing.T) {
	src := &fakeSource{bundle: chain.ScriptBundle{Seed: "0xABCD", Script: "let a=1;draw();", ProjectID: 3}}
	r := &fakeRenderer{out: []byte("B")}
	p := New(src, r, Config{LibraryDeps: []string{"https://cdn.example/p5.js"}, Marker: "__RENDERER_SELECTOR"})

	got, err := p.Render(context.Background(), cache.TokenRequest{ContractAddr: "0xContract", TokenID: 3000042})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(got) != "B" {
		t.Fatalf("unexpected bytes %q", got)
	}

	for _, want := range []string{
		`window.tokenData = { hash: "0xABCD", tokenId: 3000042 }`,
		`<script>let a=1;draw();</script>`,
		`<body id="__RENDERER_SELECTOR">`,
		`<script src="https://cdn.example/p5.js"></script>`,
	} {
		if !strings.Contains(r.doc, want) {
			t.Fatalf("document missing %q:\n%s", want, r.doc)
		}
	}
}

func TestRenderStopsOnChainFailure(t *testing.T) {
	src := &fakeSource{err: apperrors.Wrap(apperrors.KindChainRead, "tokenIdToHash", errors.New("revert"))}
	r := &fakeRenderer{out: []byte("B")}
	p := New(src, r, Config{Marker: "m"})

	_, err := p.Render(context.Background(), cache.TokenRequest{ContractAddr: "0xc", TokenID: 1})
	if !errors.Is(err, apperrors.ErrChainRead) {
		t.Fatalf("expected chain error, got %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("renderer must not run after chain failure")
	}
}

func TestRenderPropagatesRenderError(t *testing.T) {
	src := &fakeSource{bundle: chain.ScriptBundle{Seed: "0x01"}}
	r := &fakeRenderer{err: apperrors.Wrap(apperrors.KindRender, "snapshot", errors.New("no node"))}
	p := New(src, r, Config{Marker: "m"})

	_, err := p.Render(context.Background(), cache.TokenRequest{ContractAddr: "0xc", TokenID: 1})
	if !errors.Is(err, apperrors.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
}
