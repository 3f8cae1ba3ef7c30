// Package rendererworker implements RendererWorker (component G): the
// owner of one renderer.Renderer that renders a TileId into PNG bytes,
// arbitrating access to the (thread-hostile) Renderer through a shared
// arbiter.Arbiter and recording stats.RenderStats. Workers are not tied to
// server threads: the server creates a fixed set at startup and routes each
// tile to one of them. Modeled on the teacher's channel-driven worker loop
// in internal/worker/pool.go, narrowed from a batch job/result pool to a
// single FIFO request queue per worker so that the tile loads routed to one
// worker are processed strictly in accept order.
package rendererworker

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/arbiter"
	"github.com/MeKo-Tech/rastertiled/internal/metrics"
	"github.com/MeKo-Tech/rastertiled/internal/renderer"
	"github.com/MeKo-Tech/rastertiled/internal/stats"
	"github.com/MeKo-Tech/rastertiled/internal/tileid"
)

type job struct {
	id    tileid.TileId
	reply chan result
}

type result struct {
	png []byte
	err error
}

// Worker owns one Renderer and processes, one at a time, the render jobs
// routed to it.
type Worker struct {
	name     string
	renderer renderer.Renderer
	arbiter  *arbiter.Arbiter
	stats    *stats.RenderStats
	tileSize int

	jobs chan job
	done chan struct{}
}

// New creates a Worker and starts its processing loop. name identifies the
// worker in the stats report (e.g. "worker-0").
func New(name string, r renderer.Renderer, arb *arbiter.Arbiter, st *stats.RenderStats, tileSize int) *Worker {
	if tileSize <= 0 {
		tileSize = 512
	}
	w := &Worker{
		name:     name,
		renderer: r,
		arbiter:  arb,
		stats:    st,
		tileSize: tileSize,
		jobs:     make(chan job, 64),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops the worker's loop and releases its Renderer. In-flight jobs
// submitted before Close still complete; Close does not cancel them.
func (w *Worker) Close() error {
	close(w.jobs)
	<-w.done
	return w.renderer.Close()
}

// Render renders id into PNG bytes, blocking until this worker's queue has
// processed every job submitted ahead of it. ctx bounds only the wait for a
// free queue slot and the wait for the result; once the loop has taken the
// job, the arbiter wait and the render run to completion regardless of ctx.
func (w *Worker) Render(ctx context.Context, id tileid.TileId) ([]byte, error) {
	j := job{id: id, reply: make(chan result, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.png, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)
	for j := range w.jobs {
		png, err := w.render(j.id)
		j.reply <- result{png: png, err: err}
	}
}

func (w *Worker) render(id tileid.TileId) ([]byte, error) {
	center := tileid.ToCenter(id)
	effectiveZoom := w.overscaleZoom(id.Z)

	waitStart := time.Now()
	release, err := w.arbiter.Acquire(context.Background())
	metrics.ObserveSeconds(metrics.ArbiterWait, []string{w.name}, waitStart)
	if err != nil {
		return nil, fmt.Errorf("rendererworker: acquire arbiter: %w", err)
	}

	renderStart := time.Now()
	img, err := w.renderer.RenderStill(context.Background(), center, effectiveZoom, w.tileSize)
	renderDur := time.Since(renderStart)
	metrics.ObserveSeconds(metrics.RenderDuration, []string{w.name}, renderStart)
	release()

	if err != nil {
		return nil, fmt.Errorf("rendererworker: render %s: %w", id.CacheKey(), err)
	}

	encodeStart := time.Now()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("rendererworker: encode %s: %w", id.CacheKey(), err)
	}
	encodeDur := time.Since(encodeStart)
	metrics.ObserveSeconds(metrics.EncodeDuration, []string{w.name}, encodeStart)

	if w.stats != nil {
		w.stats.Record(renderDur, encodeDur, id.CacheKey())
	}

	return buf.Bytes(), nil
}

// overscaleZoom applies spec.md §4.G step 2's overscale adjustment: below
// the 512px reference tile size, the map is zoomed out one level (floored
// at 0), so a 256px tile still covers the same ground area as its 512px
// counterpart at the requested z. The render size is not changed.
func (w *Worker) overscaleZoom(z uint8) float64 {
	if w.tileSize >= 512 {
		return float64(z)
	}
	if z == 0 {
		return 0
	}
	return float64(z - 1)
}
