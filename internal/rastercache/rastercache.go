// Package rastercache implements the FileSource facade (component D) over
// the persistent cache store (C), keyed by {z,x,y,scale}. It never talks to
// the network; a miss (or a stale hit) is reported to the caller as a
// synthesized NotFound, with the stale prior fields attached for conditional
// revalidation by whichever layer re-renders the tile.
//
// Grounded on the teacher's server.OnDemandTiles disk-cache-then-generate
// flow, generalized from a filesystem existence check to a store lookup.
package rastercache

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/cachestore"
	"github.com/MeKo-Tech/rastertiled/internal/metrics"
	"github.com/MeKo-Tech/rastertiled/internal/resource"
)

// Response is what Request delivers to its callback: the CachedResponse
// plus, on a miss or stale hit, the prior entry's revalidation fields.
type Response struct {
	cachestore.CachedResponse
	PriorETag     string
	HasPriorETag  bool
	PriorModified *time.Time
	PriorExpires  *time.Time
}

// Handle is returned by Request; Cancel is idempotent and a no-op once the
// callback has already fired.
type Handle struct {
	mu        sync.Mutex
	cancelled bool
	delivered bool
}

// Cancel marks the handle cancelled. If the callback already fired, this is
// a no-op; otherwise the callback is suppressed when its goroutine notices
// cancellation.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

func (h *Handle) shouldDeliver() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.delivered || h.cancelled {
		return false
	}
	h.delivered = true
	return true
}

// RasterCache is the FileSource implementation for this server's own raster
// tile output.
type RasterCache struct {
	store *cachestore.Store
}

func New(store *cachestore.Store) *RasterCache {
	return &RasterCache{store: store}
}

// Request looks up a resource. It always invokes callback exactly once
// (unless cancelled first), synchronously from a spawned goroutine so the
// caller (TileLoader) can wait on a channel instead of blocking.
func (c *RasterCache) Request(ctx context.Context, key resource.Key, callback func(Response)) *Handle {
	h := &Handle{}
	go func() {
		cached, err := c.store.Get(ctx, key)

		var resp Response
		switch {
		case err != nil:
			metrics.RasterCacheResult.WithLabelValues("error").Inc()
			resp = Response{CachedResponse: cachestore.CachedResponse{
				Error: &cachestore.ResponseError{Kind: cachestore.IOError, Message: err.Error()},
			}}
		case cached.Error != nil && cached.Error.Kind == cachestore.NotFound:
			metrics.RasterCacheResult.WithLabelValues("miss").Inc()
			resp = Response{CachedResponse: cached}
		case !cached.IsUsable():
			metrics.RasterCacheResult.WithLabelValues("miss").Inc()
			resp = Response{
				CachedResponse: cachestore.CachedResponse{
					NoContent: true,
					Error:     &cachestore.ResponseError{Kind: cachestore.NotFound, Message: "Not found in offline database"},
				},
				PriorETag:     cached.ETag,
				HasPriorETag:  cached.HasETag,
				PriorModified: cached.Modified,
				PriorExpires:  cached.Expires,
			}
		default:
			metrics.RasterCacheResult.WithLabelValues("hit").Inc()
			resp = Response{
				CachedResponse: cached,
				PriorETag:      cached.ETag,
				HasPriorETag:   cached.HasETag,
				PriorModified:  cached.Modified,
				PriorExpires:   cached.Expires,
			}
		}

		if h.shouldDeliver() {
			callback(resp)
		}
	}()
	return h
}

// Put forwards to the store.
func (c *RasterCache) Put(ctx context.Context, key resource.Key, resp cachestore.CachedResponse) error {
	return c.store.Put(ctx, key, resp)
}

// Pause forwards to the store.
func (c *RasterCache) Pause(ctx context.Context) error { return c.store.Pause(ctx) }

// Resume forwards to the store.
func (c *RasterCache) Resume(ctx context.Context) error { return c.store.Resume(ctx) }
