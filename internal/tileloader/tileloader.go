// Package tileloader implements TileLoader (component I): the
// cache-then-render orchestration for one tile request. It owns nothing
// beyond the lifetime of a single Load call, per spec.md §3's ownership
// rules for Tile. Cross-thread coalescing of concurrent renders of the same
// tile is done with golang.org/x/sync/singleflight, the same library the
// pack's ctile example uses for the identical problem (collapsing duplicate
// concurrent upstream work onto one in-flight call).
package tileloader

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MeKo-Tech/rastertiled/internal/cachestore"
	"github.com/MeKo-Tech/rastertiled/internal/rastercache"
	"github.com/MeKo-Tech/rastertiled/internal/rendererworker"
	"github.com/MeKo-Tech/rastertiled/internal/resource"
	"github.com/MeKo-Tech/rastertiled/internal/tileid"
)

// renderMetadataTTL is how long a freshly-rendered tile's cache metadata is
// considered fresh before the next request re-renders it. spec.md §9 leaves
// the style-version-salted-key alternative as an accepted-but-unused option.
const renderMetadataTTL = 30 * time.Hour

// State is the terminal state of a Load call.
type State int

const (
	Ready State = iota
	Errored
)

// Tile is the in-flight/per-request render result.
type Tile struct {
	State State
	Data  []byte
	Err   error
}

// WorkerPicker selects which RendererWorker should render a given TileId —
// typically "hash the tile key onto one of N RendererWorkers".
type WorkerPicker func(id tileid.TileId) *rendererworker.Worker

// TileLoader loads one tile: RasterCache lookup, falling back to rendering
// through a RendererWorker and writing the result back to the cache.
type TileLoader struct {
	cache  *rastercache.RasterCache
	pick   WorkerPicker
	group  singleflight.Group
}

// New creates a TileLoader. pick chooses the RendererWorker a cache miss is
// dispatched to.
func New(cache *rastercache.RasterCache, pick WorkerPicker) *TileLoader {
	return &TileLoader{cache: cache, pick: pick}
}

// Load resolves id to a rendered tile: a cache hit returns immediately; a
// miss renders (coalescing concurrent identical misses across worker
// threads via singleflight), writes the result back to the cache, and
// returns it. The render itself cannot be cancelled once singleflight has
// admitted it. The ctx of the call that started the render bounds the wait
// of every caller sharing it; a caller that joins an in-flight render waits
// for it without consulting its own ctx.
func (l *TileLoader) Load(ctx context.Context, id tileid.TileId) (Tile, error) {
	if !id.Valid() {
		return Tile{}, fmt.Errorf("tileloader: invalid tile id %s", id.CacheKey())
	}

	key := cacheKeyFor(id)

	cached, err := l.requestCache(ctx, key)
	if err != nil {
		return Tile{}, err
	}
	if cached.IsUsable() {
		return Tile{State: Ready, Data: cached.Data}, nil
	}

	v, err, _ := l.group.Do(id.CacheKey(), func() (interface{}, error) {
		return l.renderAndCache(ctx, id, key)
	})
	if err != nil {
		return Tile{State: Errored, Err: err}, err
	}
	return Tile{State: Ready, Data: v.([]byte)}, nil
}

func (l *TileLoader) renderAndCache(ctx context.Context, id tileid.TileId, key resource.Key) ([]byte, error) {
	worker := l.pick(id)
	if worker == nil {
		return nil, fmt.Errorf("tileloader: no renderer worker available for %s", id.CacheKey())
	}

	data, err := worker.Render(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tileloader: render %s: %w", id.CacheKey(), err)
	}

	// Cache write is fire-and-forget: an HTTP client that disconnected mid
	// render still got the render it asked for; the cache entry benefits the
	// next request regardless of whether this one is still listening.
	go func() {
		now := time.Now()
		expires := now.Add(renderMetadataTTL)
		_ = l.cache.Put(context.Background(), key, cachestore.CachedResponse{
			Data:           data,
			Modified:       &now,
			Expires:        &expires,
			MustRevalidate: true,
		})
	}()

	return data, nil
}

func (l *TileLoader) requestCache(ctx context.Context, key resource.Key) (rastercache.Response, error) {
	type outcome struct {
		resp rastercache.Response
	}
	ch := make(chan outcome, 1)
	h := l.cache.Request(ctx, key, func(r rastercache.Response) {
		select {
		case ch <- outcome{resp: r}:
		default:
		}
	})

	select {
	case o := <-ch:
		return o.resp, nil
	case <-ctx.Done():
		h.Cancel()
		return rastercache.Response{}, ctx.Err()
	}
}

func cacheKeyFor(id tileid.TileId) resource.Key {
	return resource.Key{
		Kind: resource.RasterTile,
		URL:  id.Name,
		Tile: resource.TileCoord{Z: uint32(id.Z), X: uint32(id.X), Y: uint32(id.Y), Present: true},
	}
}
