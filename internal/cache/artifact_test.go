package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "token-renderer/internal/errors"
)

type fakeRenderer struct {
	calls atomic.Int32
	out   []byte
	err   error
	gate  chan struct{}
}

func (f *fakeRenderer) render(ctx context.Context, req TokenRequest) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestKeyFormat(t *testing.T) {
	got := KeyFor("prefix", TokenRequest{ContractAddr: "0xContract", TokenID: 3000042}).String()
	if got != "prefix/0xContract/3000042.png" {
		t.Fatalf("unexpected key %q", got)
	}

	k, ok := ParseKey(got)
	if !ok || k.Prefix != "prefix" || k.ContractAddr != "0xContract" || k.TokenID != 3000042 {
		t.Fatalf("ParseKey round trip failed: %#v ok=%v", k, ok)
	}
	if _, ok := ParseKey("no-extension"); ok {
		t.Fatalf("expected parse failure")
	}
}

func TestGetOrRender_MissThenHit(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "prefix"})
	r := &fakeRenderer{out: []byte("B")}
	req := TokenRequest{ContractAddr: "0xContract", TokenID: 3000042}
	ctx := context.Background()

	first, err := c.GetOrRender(ctx, req, r.render)
	if err != nil {
		t.Fatalf("first GetOrRender: %v", err)
	}
	second, err := c.GetOrRender(ctx, req, r.render)
	if err != nil {
		t.Fatalf("second GetOrRender: %v", err)
	}

	if string(first) != "B" || string(second) != "B" {
		t.Fatalf("expected identical artifacts, got %q and %q", first, second)
	}
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("expected exactly one render, got %d", n)
	}

	_, downloads, uploads := store.counts()
	if uploads != 1 || store.uploads[0] != "prefix/0xContract/3000042.png" {
		t.Fatalf("expected one upload at the token key, got %v", store.uploads)
	}
	if ct, _ := store.ContentType("prefix/0xContract/3000042.png"); ct != ContentTypePNG {
		t.Fatalf("unexpected content type %q", ct)
	}
	if downloads != 1 {
		t.Fatalf("expected the hit to download once, got %d", downloads)
	}
}

func TestGetOrRender_RenderFailureStoresNothing(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
	renderErr := apperrors.Wrap(apperrors.KindRender, "wait for marker", context.DeadlineExceeded)
	r := &fakeRenderer{err: renderErr}

	_, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 1}, r.render)
	if !errors.Is(err, apperrors.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if _, _, uploads := store.counts(); uploads != 0 {
		t.Fatalf("expected no upload after failed render, got %d", uploads)
	}
}

func TestGetOrRender_EmptyRenderStoresNothing(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
	r := &fakeRenderer{out: []byte{}}

	_, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 1}, r.render)
	if !errors.Is(err, apperrors.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if _, _, uploads := store.counts(); uploads != 0 {
		t.Fatalf("expected no upload for empty artifact")
	}
}

func TestGetOrRender_StoreErrorsAreCacheIO(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		store := newCountingStore()
		store.existsErr = errors.New("503 backend")
		c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
		r := &fakeRenderer{out: []byte("B")}

		_, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 1}, r.render)
		if !errors.Is(err, apperrors.ErrCacheIO) {
			t.Fatalf("expected cache io error, got %v", err)
		}
		if r.calls.Load() != 0 {
			t.Fatalf("render must not run when the probe fails")
		}
	})

	t.Run("upload", func(t *testing.T) {
		store := newCountingStore()
		store.uploadErr = errors.New("permission denied")
		c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
		r := &fakeRenderer{out: []byte("B")}

		_, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 1}, r.render)
		if !errors.Is(err, apperrors.ErrCacheIO) {
			t.Fatalf("expected cache io error, got %v", err)
		}
	})
}

func TestGetOrRender_ConcurrentMissesShareOneRender(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
	r := &fakeRenderer{out: []byte("B"), gate: make(chan struct{})}
	req := TokenRequest{ContractAddr: "0xc", TokenID: 7}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrRender(context.Background(), req, r.render)
		}(i)
	}

	// let every caller pass the existence probe before the render finishes
	deadline := time.Now().Add(2 * time.Second)
	for {
		exists, _, _ := store.counts()
		if exists >= callers || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(r.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i]) != "B" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("expected one render, got %d", n)
	}
	if _, _, uploads := store.counts(); uploads != 1 {
		t.Fatalf("expected one upload, got %d", uploads)
	}
}

func TestGetOrRender_WaiterCanGiveUp(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "p"})
	r := &fakeRenderer{out: []byte("B"), gate: make(chan struct{})}
	req := TokenRequest{ContractAddr: "0xc", TokenID: 9}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetOrRender(ctx, req, r.render)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	// the detached render still completes and is stored
	close(r.gate)
	deadline := time.Now().Add(2 * time.Second)
	for store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("expected detached render to be stored")
	}
}

type refusingLease struct{ ttl time.Duration }

func (l refusingLease) Acquire(context.Context, string) (func(), bool, error) { return nil, false, nil }
func (l refusingLease) TTL() time.Duration                                    { return l.ttl }

func TestGetOrRender_LeaseWaiterPicksUpPeerArtifact(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{
		Prefix:       "p",
		Lease:        refusingLease{ttl: 2 * time.Second},
		PollInterval: 5 * time.Millisecond,
	})
	r := &fakeRenderer{out: []byte("local")}
	req := TokenRequest{ContractAddr: "0xc", TokenID: 11}
	key := c.Key(req)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.MemoryStore.Upload(context.Background(), key, []byte("peer"), ContentTypePNG)
	}()

	got, err := c.GetOrRender(context.Background(), req, r.render)
	if err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if string(got) != "peer" {
		t.Fatalf("expected peer artifact, got %q", got)
	}
	if r.calls.Load() != 0 {
		t.Fatalf("waiter must not render while the peer publishes")
	}
}

func TestGetOrRender_LeaseExpiryFallsBackToLocalRender(t *testing.T) {
	store := newCountingStore()
	c := NewArtifactCache(store, ArtifactConfig{
		Prefix:       "p",
		Lease:        refusingLease{ttl: 30 * time.Millisecond},
		PollInterval: 5 * time.Millisecond,
	})
	r := &fakeRenderer{out: []byte("local")}

	got, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 12}, r.render)
	if err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if string(got) != "local" || r.calls.Load() != 1 {
		t.Fatalf("expected local render after lease expiry, got %q (%d renders)", got, r.calls.Load())
	}
}

// stallingUploadStore never finishes an upload before its context ends.
type stallingUploadStore struct {
	*MemoryStore
}

func (s stallingUploadStore) Upload(ctx context.Context, _ string, _ []byte, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGetOrRender_StuckFlightReleasesKey(t *testing.T) {
	store := stallingUploadStore{MemoryStore: NewMemoryStore()}
	c := NewArtifactCache(store, ArtifactConfig{Prefix: "p", FlightTimeout: 50 * time.Millisecond})
	r := &fakeRenderer{out: []byte("B")}
	req := TokenRequest{ContractAddr: "0xc", TokenID: 13}

	// the first caller has no deadline of its own
	_, err := c.GetOrRender(context.Background(), req, r.render)
	if !errors.Is(err, apperrors.ErrCacheIO) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cache io deadline error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.GetOrRender(ctx, req, r.render)
	if !errors.Is(err, apperrors.ErrCacheIO) {
		t.Fatalf("expected cache io error, got %v", err)
	}
	if n := r.calls.Load(); n != 2 {
		t.Fatalf("expected the second request to start a fresh render, got %d renders", n)
	}
}

func TestGetOrRender_FlightRunsUnderDeadline(t *testing.T) {
	c := NewArtifactCache(NewMemoryStore(), ArtifactConfig{Prefix: "p"})

	var hasDeadline bool
	_, err := c.GetOrRender(context.Background(), TokenRequest{ContractAddr: "0xc", TokenID: 14},
		func(ctx context.Context, _ TokenRequest) ([]byte, error) {
			_, hasDeadline = ctx.Deadline()
			return []byte("B"), nil
		})
	if err != nil {
		t.Fatalf("GetOrRender: %v", err)
	}
	if !hasDeadline {
		t.Fatalf("shared render must run under a deadline")
	}
}
