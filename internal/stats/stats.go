// Package stats implements RenderStats and the StatsAggregator (component
// K): a lock-free per-worker counter set plus a read-only snapshot/JSON view
// over every registered worker, grounded on the teacher's
// OnDemandTiles.Status()/TileStatus JSON pattern in
// internal/server/ondemand_tiles.go.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// RenderStats accumulates render/encode timing for a single RendererWorker.
// All fields are updated from one goroutine (the worker's own) but read
// concurrently by the StatsAggregator, hence the atomics.
type RenderStats struct {
	startTime time.Time

	count          atomic.Int64
	totalRenderNs  atomic.Int64
	totalEncodeNs  atomic.Int64
	minRenderNs    atomic.Int64
	maxRenderNs    atomic.Int64
	minTileLabel   atomic.Value // string
	maxTileLabel   atomic.Value // string
}

// NewRenderStats creates a RenderStats with the minimum initialized to
// math.MaxInt64, so the first observation unconditionally replaces it —
// the Go-native analogue of initializing a duration to its type maximum.
func NewRenderStats() *RenderStats {
	s := &RenderStats{startTime: time.Now()}
	s.minRenderNs.Store(int64(math.MaxInt64))
	s.maxRenderNs.Store(0)
	return s
}

// Record registers one completed render+encode for tileLabel (typically a
// TileId.CacheKey()).
func (s *RenderStats) Record(renderDuration, encodeDuration time.Duration, tileLabel string) {
	s.count.Add(1)
	s.totalRenderNs.Add(int64(renderDuration))
	s.totalEncodeNs.Add(int64(encodeDuration))

	renderNs := int64(renderDuration)
	for {
		cur := s.minRenderNs.Load()
		if renderNs >= cur {
			break
		}
		if s.minRenderNs.CompareAndSwap(cur, renderNs) {
			s.minTileLabel.Store(tileLabel)
			break
		}
	}
	for {
		cur := s.maxRenderNs.Load()
		if renderNs <= cur {
			break
		}
		if s.maxRenderNs.CompareAndSwap(cur, renderNs) {
			s.maxTileLabel.Store(tileLabel)
			break
		}
	}
}

// Snapshot is an immutable, JSON-serializable view of a RenderStats value at
// a point in time.
type Snapshot struct {
	StartTime     time.Time     `json:"start_time"`
	Count         int64         `json:"count"`
	TotalRender   time.Duration `json:"total_render_ns"`
	TotalEncode   time.Duration `json:"total_encode_ns"`
	MinRender     time.Duration `json:"min_render_ns"`
	MaxRender     time.Duration `json:"max_render_ns"`
	MinRenderTile string        `json:"min_render_tile,omitempty"`
	MaxRenderTile string        `json:"max_render_tile,omitempty"`
}

// Snapshot reads a consistent-enough point-in-time view of s. Count and the
// totals never decrease between calls (Testable Property: stats
// monotonicity); once Count >= 2, MinRender <= MaxRender.
func (s *RenderStats) Snapshot() Snapshot {
	min := s.minRenderNs.Load()
	if s.count.Load() == 0 {
		min = 0
	}

	minLabel, _ := s.minTileLabel.Load().(string)
	maxLabel, _ := s.maxTileLabel.Load().(string)

	return Snapshot{
		StartTime:     s.startTime,
		Count:         s.count.Load(),
		TotalRender:   time.Duration(s.totalRenderNs.Load()),
		TotalEncode:   time.Duration(s.totalEncodeNs.Load()),
		MinRender:     time.Duration(min),
		MaxRender:     time.Duration(s.maxRenderNs.Load()),
		MinRenderTile: minLabel,
		MaxRenderTile: maxLabel,
	}
}

// Aggregator holds a read-only registry of every RendererWorker's
// RenderStats, keyed by worker name, for the /stats endpoint.
type Aggregator struct {
	mu      sync.RWMutex
	workers map[string]*RenderStats
	name    string
}

// NewAggregator creates an Aggregator reporting under serverName (the
// --name flag value).
func NewAggregator(serverName string) *Aggregator {
	return &Aggregator{
		workers: make(map[string]*RenderStats),
		name:    serverName,
	}
}

// Register adds (or returns the existing) RenderStats for workerName.
func (a *Aggregator) Register(workerName string) *RenderStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.workers[workerName]; ok {
		return s
	}
	s := NewRenderStats()
	a.workers[workerName] = s
	return s
}

// Report is the JSON-serializable shape of the /stats endpoint.
type Report struct {
	ServerName string                `json:"server_name"`
	Workers    map[string]Snapshot   `json:"workers"`
}

// Snapshot produces a Report over every registered worker.
func (a *Aggregator) Snapshot() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	workers := make(map[string]Snapshot, len(a.workers))
	for name, s := range a.workers {
		workers[name] = s.Snapshot()
	}
	return Report{ServerName: a.name, Workers: workers}
}
