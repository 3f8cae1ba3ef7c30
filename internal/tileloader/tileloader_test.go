package tileloader

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/arbiter"
	"github.com/MeKo-Tech/rastertiled/internal/cachestore"
	"github.com/MeKo-Tech/rastertiled/internal/rastercache"
	"github.com/MeKo-Tech/rastertiled/internal/rendererworker"
	"github.com/MeKo-Tech/rastertiled/internal/stats"
	"github.com/MeKo-Tech/rastertiled/internal/tileid"
)

type countingRenderer struct {
	calls atomic.Int64
	delay time.Duration
}

func (c *countingRenderer) RenderStill(ctx context.Context, center tileid.GeoCenter, zoom float64, size int) (image.Image, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
		}
	}
	return img, nil
}

func (c *countingRenderer) Close() error { return nil }

func newTestLoader(t *testing.T, renderDelay time.Duration) (*TileLoader, *countingRenderer) {
	t.Helper()
	store, err := cachestore.Open(cachestore.Config{Path: filepath.Join(t.TempDir(), "raster.cache")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cache := rastercache.New(store)
	r := &countingRenderer{delay: renderDelay}
	w := rendererworker.New("worker-0", r, arbiter.New(), stats.NewRenderStats(), 256)
	t.Cleanup(func() { _ = w.Close() })

	loader := New(cache, func(tileid.TileId) *rendererworker.Worker { return w })
	return loader, r
}

func TestLoadRendersOnMissThenHitsCache(t *testing.T) {
	loader, r := newTestLoader(t, 0)
	id := tileid.TileId{Name: "default", Z: 2, X: 1, Y: 1, Format: tileid.PNG}

	tile, err := loader.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tile.State != Ready || len(tile.Data) == 0 {
		t.Fatalf("expected ready tile with data, got %+v", tile.State)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("expected one render call, got %d", r.calls.Load())
	}

	// Cache write happens asynchronously; poll the cache briefly for it to
	// land, then assert a second load is a pure cache hit (Testable Property 3).
	key := cacheKeyFor(id)
	deadline := time.After(2 * time.Second)
	for {
		cached, err := loader.requestCache(context.Background(), key)
		if err != nil {
			t.Fatalf("requestCache: %v", err)
		}
		if cached.IsUsable() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cache write never landed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	tile2, err := loader.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.calls.Load() != 1 || tile2.State != Ready {
		t.Fatalf("expected second load to be a cache hit, state=%v calls=%d", tile2.State, r.calls.Load())
	}
}

func TestLoadRejectsInvalidTileId(t *testing.T) {
	loader, _ := newTestLoader(t, 0)
	id := tileid.TileId{Name: "default", Z: 1, X: 5, Y: 0, Format: tileid.PNG}

	if _, err := loader.Load(context.Background(), id); err == nil {
		t.Error("expected error for out-of-range tile id")
	}
}

func TestConcurrentLoadsOfSameTileCoalesce(t *testing.T) {
	loader, r := newTestLoader(t, 50*time.Millisecond)
	id := tileid.TileId{Name: "default", Z: 5, X: 3, Y: 3, Format: tileid.PNG}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loader.Load(context.Background(), id); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if r.calls.Load() != 1 {
		t.Errorf("expected singleflight to coalesce to one render, got %d calls", r.calls.Load())
	}
}
