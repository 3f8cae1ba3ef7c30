// Package arbiter implements the RenderArbiter (component H): a
// process-wide mutual-exclusion guard around the rendering engine, needed
// because a single Renderer value may not be driven from two goroutines at
// once (see internal/renderer.Renderer). Modeled the same way the teacher
// guards tile generation with a semaphore in internal/server/ondemand_tiles.go,
// narrowed from an N-slot semaphore to a single exclusive lock since the
// engine tolerates exactly one concurrent render.
package arbiter

import (
	"context"
	"sync"
	"time"
)

// Arbiter serializes access to the Renderer across every RendererWorker in
// the process. Acquire/Release intervals are pairwise disjoint by
// construction — this is the at-most-one-render invariant.
type Arbiter struct {
	mu chan struct{}

	mu2        sync.Mutex
	acquireSeq []Interval
}

// Interval records one acquire/release span, kept for tests that assert
// pairwise disjointness under concurrent load.
type Interval struct {
	Start, End time.Time
}

// New creates an Arbiter ready for use.
func New() *Arbiter {
	a := &Arbiter{mu: make(chan struct{}, 1)}
	a.mu <- struct{}{}
	return a
}

// Acquire blocks until the render slot is free or ctx is done. The returned
// release function must be called exactly once to free the slot.
func (a *Arbiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case <-a.mu:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	var released bool
	var releaseMu sync.Mutex

	return func() {
		releaseMu.Lock()
		defer releaseMu.Unlock()
		if released {
			return
		}
		released = true

		a.mu2.Lock()
		a.acquireSeq = append(a.acquireSeq, Interval{Start: start, End: time.Now()})
		a.mu2.Unlock()

		a.mu <- struct{}{}
	}, nil
}

// Intervals returns every recorded acquire/release span, in release order.
// Intended for tests verifying the at-most-one-render invariant.
func (a *Arbiter) Intervals() []Interval {
	a.mu2.Lock()
	defer a.mu2.Unlock()
	out := make([]Interval, len(a.acquireSeq))
	copy(out, a.acquireSeq)
	return out
}
