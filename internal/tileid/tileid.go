// Package tileid parses slippy-map tile requests into a canonical TileId
// and converts a TileId into the geographic center Mapnik needs to render it.
package tileid

import (
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Format is the raster encoding requested for a tile.
type Format int

const (
	PNG Format = iota
	JPG
)

func (f Format) String() string {
	if f == JPG {
		return "jpg"
	}
	return "png"
}

// ContentType returns the MIME type to report for the format.
func (f Format) ContentType() string {
	if f == JPG {
		return "image/jpeg"
	}
	return "image/png"
}

// TileId identifies one rendered tile request.
//
// Equality/hashing for the render layer ignores Name; the raster-cache key
// namespace includes it. Key and CacheKey below expose both views.
type TileId struct {
	Name   string
	Z      uint8
	X      uint64
	Y      uint64
	Format Format
}

// Valid reports whether z/x/y satisfy the slippy-map invariants.
func (t TileId) Valid() bool {
	if t.Z > 22 {
		return false
	}
	limit := uint64(1) << t.Z
	return t.X < limit && t.Y < limit
}

// Key is the render-layer cache key: all fields except Name.
type Key struct {
	Z      uint8
	X, Y   uint64
	Format Format
}

func (t TileId) Key() Key {
	return Key{Z: t.Z, X: t.X, Y: t.Y, Format: t.Format}
}

// CacheKey is the raster-cache namespace key: Name included.
func (t TileId) CacheKey() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('/')
	b.WriteString(strconv.FormatUint(uint64(t.Z), 10))
	b.WriteByte('/')
	b.WriteString(strconv.FormatUint(t.X, 10))
	b.WriteByte('/')
	b.WriteString(strconv.FormatUint(t.Y, 10))
	b.WriteByte('.')
	b.WriteString(t.Format.String())
	return b.String()
}

// GeoCenter is a WGS84 longitude/latitude pair.
type GeoCenter struct {
	Lon, Lat float64
}

// pathRe matches /<name>/<z>/<x>/<y>[.png|.jpg].
var pathRe = regexp.MustCompile(`^/([^/]+)/(\d+)/(\d+)/(\d+)(?:\.(png|jpg))?$`)

// ErrNoMatch names the "neither URL shape matches" condition. Parse does not
// return it; Parse reports that condition as ok=false.
var ErrNoMatch = errors.New("tileid: no match")

// Parse recognizes the path shape (/<name>/<z>/<x>/<y>[.ext]) and the query
// shape (<name>?x=&y=&z=). It returns ok=false, never an error, when the
// request doesn't look like a tile request at all — the caller (the request
// handler) turns that into a 404.
func Parse(r *http.Request) (TileId, bool) {
	if id, ok := parsePath(r.URL.Path); ok {
		return id, true
	}
	return parseQuery(r.URL.Path, r.URL.Query())
}

func parsePath(path string) (TileId, bool) {
	m := pathRe.FindStringSubmatch(path)
	if m == nil {
		return TileId{}, false
	}
	z, err := strconv.ParseUint(m[2], 10, 8)
	if err != nil {
		return TileId{}, false
	}
	x, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return TileId{}, false
	}
	y, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return TileId{}, false
	}

	format := PNG
	if m[5] == "jpg" {
		format = JPG
	}

	id := TileId{Name: m[1], Z: uint8(z), X: x, Y: y, Format: format}
	if !id.Valid() {
		return TileId{}, false
	}
	return id, true
}

func parseQuery(path string, q map[string][]string) (TileId, bool) {
	xs, xok := firstValue(q, "x")
	ys, yok := firstValue(q, "y")
	zs, zok := firstValue(q, "z")
	if !xok || !yok || !zok {
		return TileId{}, false
	}

	z, err := strconv.ParseUint(zs, 10, 8)
	if err != nil {
		return TileId{}, false
	}
	x, err := strconv.ParseUint(xs, 10, 64)
	if err != nil {
		return TileId{}, false
	}
	y, err := strconv.ParseUint(ys, 10, 64)
	if err != nil {
		return TileId{}, false
	}

	name := strings.TrimPrefix(path, "/")
	if name == "" {
		return TileId{}, false
	}

	id := TileId{Name: name, Z: uint8(z), X: x, Y: y, Format: PNG}
	if !id.Valid() {
		return TileId{}, false
	}
	return id, true
}

func firstValue(q map[string][]string, key string) (string, bool) {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// ToCenter converts a tile coordinate to its geographic center using the
// standard slippy-map tile grid. Longitude is linear in x; latitude is the
// inverse Gudermannian of y, evaluated at the tile's own linear midpoint.
// Averaging the tile's edge latitudes instead would not commute with that
// nonlinear transform and gives the wrong center for every tile but z=0.
func ToCenter(id TileId) GeoCenter {
	n := math.Exp2(float64(id.Z))
	lon := (float64(id.X)+0.5)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*(float64(id.Y)+0.5)/n)))
	return GeoCenter{Lon: lon, Lat: latRad * 180.0 / math.Pi}
}

// FormatURL renders a path-shaped tile URL for (name, z, x, y, ext) — the
// inverse of Parse, used by the URL round-trip test.
func FormatURL(name string, z uint8, x, y uint64, format Format) string {
	ext := ""
	if format == JPG {
		ext = ".jpg"
	} else {
		ext = ".png"
	}
	return "/" + name + "/" + strconv.FormatUint(uint64(z), 10) + "/" +
		strconv.FormatUint(x, 10) + "/" + strconv.FormatUint(y, 10) + ext
}
