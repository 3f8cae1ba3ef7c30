// Package vectorsource implements the upstream FileSource (component E):
// the same request/put/pause/resume contract as rastercache, but on a miss
// it fetches the resource over HTTP or from a local asset:// root instead of
// rendering, and writes the fetched bytes back into the persistent store.
//
// The fetch machinery here is grounded on the teacher's
// internal/datasource/fetch_queue.go: a bounded job queue drained by a small
// worker pool, generalized from fetching Overpass query results to fetching
// style/sprite/glyph/vector-tile bytes by URL. IsTransient reuses the
// teacher's transient-error classification heuristic, but no retry-with-
// backoff loop is wired up here — see DESIGN.md.
package vectorsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/cachestore"
	"github.com/MeKo-Tech/rastertiled/internal/metrics"
	"github.com/MeKo-Tech/rastertiled/internal/resource"
)

// Config configures the upstream source.
type Config struct {
	AssetRoot  string
	Workers    int
	QueueSize  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type fetchJob struct {
	key    resource.Key
	result chan fetchResult
}

type fetchResult struct {
	data []byte
	err  error
}

// VectorSource is the upstream FileSource implementation.
type VectorSource struct {
	store      *cachestore.Store
	assetRoot  string
	httpClient *http.Client
	logger     *slog.Logger

	jobs   chan fetchJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalFetched atomic.Int64
	totalFailed  atomic.Int64
}

// New creates a VectorSource and starts its fetch workers.
func New(store *cachestore.Store, cfg Config) *VectorSource {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AssetRoot == "" {
		cfg.AssetRoot = "."
	}

	ctx, cancel := context.WithCancel(context.Background())
	vs := &VectorSource{
		store:      store,
		assetRoot:  cfg.AssetRoot,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		jobs:       make(chan fetchJob, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		vs.wg.Add(1)
		go vs.worker()
	}
	return vs
}

// Stop shuts down the fetch workers.
func (vs *VectorSource) Stop() {
	vs.cancel()
	vs.wg.Wait()
}

// Request looks up key in the store; on a usable hit it replies immediately,
// otherwise it enqueues a fetch and replies once the fetch (and the
// resulting store Put) completes.
func (vs *VectorSource) Request(ctx context.Context, key resource.Key, callback func(cachestore.CachedResponse)) {
	cached, err := vs.store.Get(ctx, key)
	if err == nil && cached.IsUsable() {
		metrics.VectorSourceResult.WithLabelValues(key.Kind.String(), "hit").Inc()
		callback(cached)
		return
	}

	resultCh := make(chan fetchResult, 1)
	select {
	case vs.jobs <- fetchJob{key: key, result: resultCh}:
	case <-ctx.Done():
		callback(cachestore.CachedResponse{Error: &cachestore.ResponseError{Kind: cachestore.IOError, Message: ctx.Err().Error()}})
		return
	default:
		callback(cachestore.CachedResponse{Error: &cachestore.ResponseError{Kind: cachestore.IOError, Message: "vectorsource: fetch queue full"}})
		return
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			result := "error"
			if IsTransient(res.err) {
				result = "transient_error"
			}
			metrics.VectorSourceResult.WithLabelValues(key.Kind.String(), result).Inc()
			callback(cachestore.CachedResponse{Error: &cachestore.ResponseError{Kind: cachestore.IOError, Message: res.err.Error()}})
			return
		}
		metrics.VectorSourceResult.WithLabelValues(key.Kind.String(), "fetched").Inc()
		now := time.Now()
		resp := cachestore.CachedResponse{Data: res.data, Modified: &now}
		if err := vs.store.Put(ctx, key, resp); err != nil {
			vs.logger.Error("vectorsource: cache put failed", "key", key.String(), "error", err)
		}
		callback(resp)
	case <-ctx.Done():
		metrics.VectorSourceResult.WithLabelValues(key.Kind.String(), "cancelled").Inc()
		callback(cachestore.CachedResponse{Error: &cachestore.ResponseError{Kind: cachestore.IOError, Message: ctx.Err().Error()}})
	}
}

// Put forwards to the store.
func (vs *VectorSource) Put(ctx context.Context, key resource.Key, resp cachestore.CachedResponse) error {
	return vs.store.Put(ctx, key, resp)
}

// Pause forwards to the store.
func (vs *VectorSource) Pause(ctx context.Context) error { return vs.store.Pause(ctx) }

// Resume forwards to the store.
func (vs *VectorSource) Resume(ctx context.Context) error { return vs.store.Resume(ctx) }

func (vs *VectorSource) worker() {
	defer vs.wg.Done()
	for {
		select {
		case <-vs.ctx.Done():
			return
		case job, ok := <-vs.jobs:
			if !ok {
				return
			}
			data, err := vs.fetch(job.key)
			if err != nil {
				vs.totalFailed.Add(1)
			} else {
				vs.totalFetched.Add(1)
			}
			job.result <- fetchResult{data: data, err: err}
		}
	}
}

func (vs *VectorSource) fetch(key resource.Key) ([]byte, error) {
	switch {
	case strings.HasPrefix(key.URL, "asset://"):
		return vs.fetchAsset(key.URL)
	case strings.HasPrefix(key.URL, "http://"), strings.HasPrefix(key.URL, "https://"):
		return vs.fetchHTTP(key.URL)
	case strings.HasPrefix(key.URL, "file://"):
		return os.ReadFile(strings.TrimPrefix(key.URL, "file://"))
	default:
		return nil, fmt.Errorf("vectorsource: unsupported URL scheme: %s", key.URL)
	}
}

func (vs *VectorSource) fetchAsset(url string) ([]byte, error) {
	rel := strings.TrimPrefix(url, "asset://")
	path := filepath.Join(vs.assetRoot, filepath.Clean("/"+rel))
	return os.ReadFile(path)
}

func (vs *VectorSource) fetchHTTP(url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(vs.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorsource: build request: %w", err)
	}

	resp, err := vs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vectorsource: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vectorsource: fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vectorsource: read body of %s: %w", url, err)
	}
	return body, nil
}

// IsTransient reports whether err looks like a transient upstream failure
// worth retrying — same classification heuristic as the teacher's
// isTransientError, generalized from Overpass-specific substrings to
// generic HTTP/network substrings.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "Gateway Timeout") ||
		strings.Contains(s, "status 502") ||
		strings.Contains(s, "status 503") ||
		strings.Contains(s, "status 504") ||
		strings.Contains(s, "connection reset")
}
