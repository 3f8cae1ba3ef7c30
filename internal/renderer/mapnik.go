package renderer

// #cgo LDFLAGS: -lmapnik
// #cgo CXXFLAGS: -std=c++14
import "C"

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	mapnik "github.com/omniscale/go-mapnik/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/MeKo-Tech/rastertiled/internal/tileid"
)

// MapnikRenderer wraps Mapnik as the opaque Renderer (F). Mapnik's
// datasource plugins are registered once per process; registerOnce guards
// that.
type MapnikRenderer struct {
	mapObject *mapnik.Map
	size      int
}

var (
	registerOnce sync.Once
	registerErr  error
)

// NewMapnikRenderer loads styleFile into a new Mapnik map object sized
// size x size pixels. styleFile must be a local path — resolving a style
// URL to a local path is the vectorsource FileSource's job.
func NewMapnikRenderer(styleFile string, size int) (*MapnikRenderer, error) {
	registerOnce.Do(func() {
		registerErr = mapnik.RegisterDatasources("/usr/lib/mapnik/3.1/input")
	})
	if registerErr != nil {
		return nil, fmt.Errorf("renderer: register datasources: %w", registerErr)
	}

	m := mapnik.NewSized(size, size)
	if styleFile != "" {
		if err := m.Load(styleFile); err != nil {
			return nil, fmt.Errorf("renderer: load style %s: %w", styleFile, err)
		}
	}

	return &MapnikRenderer{mapObject: m, size: size}, nil
}

// RenderStill implements Renderer. zoom is the already-overscale-adjusted
// zoom RendererWorker computed (see spec.md §4.G step 2).
func (r *MapnikRenderer) RenderStill(ctx context.Context, center tileid.GeoCenter, zoom float64, size int) (image.Image, error) {
	r.mapObject.SetSRS("+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs +over")

	minX, minY, maxX, maxY := boundsForCenterZoom(center, zoom, size)
	r.mapObject.ZoomTo(minX, minY, maxX, maxY)

	img, err := r.mapObject.RenderImage(mapnik.RenderOpts{Format: "png32"})
	if err != nil {
		return nil, fmt.Errorf("renderer: render still: %w", err)
	}
	return img, nil
}

// Close implements Renderer.
func (r *MapnikRenderer) Close() error {
	if r.mapObject != nil {
		r.mapObject.Free()
		r.mapObject = nil
	}
	return nil
}

// LoadXML loads a Mapnik style from an in-memory XML string, writing it to a
// temp file first since the underlying binding only loads from disk.
func (r *MapnikRenderer) LoadXML(xmlString string) error {
	tmpFile, err := os.CreateTemp("", "mapnik-style-*.xml")
	if err != nil {
		return fmt.Errorf("renderer: create temp style file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(xmlString); err != nil {
		tmpFile.Close()
		return fmt.Errorf("renderer: write temp style file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("renderer: close temp style file: %w", err)
	}

	if err := r.mapObject.Load(tmpPath); err != nil {
		return fmt.Errorf("renderer: load XML: %w", err)
	}
	return nil
}

const earthCircumference = 2 * math.Pi * 6378137.0 // meters, WGS84 spherical mercator

// boundsForCenterZoom computes the Web Mercator extent (minX, minY, maxX,
// maxY) of a size x size render centered at center at the given
// (post-overscale) zoom level. The lon/lat -> meters projection itself is
// orb/project's spherical mercator, the same library the teacher uses for
// tile/bound math elsewhere in its coordinate layer.
func boundsForCenterZoom(center tileid.GeoCenter, zoom float64, size int) (minX, minY, maxX, maxY float64) {
	merc := project.WGS84.ToMercator(orb.Point{center.Lon, center.Lat})
	cx, cy := merc[0], merc[1]

	worldSize := 256.0 * math.Exp2(zoom)
	metersPerPixel := earthCircumference / worldSize
	halfExtent := metersPerPixel * float64(size) / 2

	return cx - halfExtent, cy - halfExtent, cx + halfExtent, cy + halfExtent
}
