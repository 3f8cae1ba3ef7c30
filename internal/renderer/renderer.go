// Package renderer defines the opaque rendering boundary (component F):
// renderStill(center, zoom) -> premultiplied RGBA image. The engine behind
// it is treated as an external collaborator per spec.md §1 — this package
// exposes only the interface RendererWorker (internal/rendererworker) needs,
// plus the cgo Mapnik implementation the teacher ships.
package renderer

import (
	"context"
	"image"

	"github.com/MeKo-Tech/rastertiled/internal/tileid"
)

// Renderer is the interface RendererWorker drives. A single Renderer value
// is thread-hostile: only one RenderStill call may be in flight across the
// entire process at a time, which is why RendererWorker acquires the
// RenderArbiter (component H) around every call.
type Renderer interface {
	// RenderStill renders the style loaded at construction time, centered at
	// center, at the given zoom, into a size x size RGBA image.
	RenderStill(ctx context.Context, center tileid.GeoCenter, zoom float64, size int) (image.Image, error)
	// Close releases engine resources.
	Close() error
}
