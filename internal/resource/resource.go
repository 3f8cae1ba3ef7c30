// Package resource defines the ResourceKey that both cache tiers (D, E) use
// to address cached data in the persistent store (C).
package resource

import (
	"encoding/binary"
	"fmt"
)

// Kind enumerates the classes of resource the renderer's FileSource may ask
// for. RasterTile is this server's own output; the rest are upstream
// resources the renderer needs in order to produce that output.
type Kind uint8

const (
	Style Kind = iota
	Sprite
	Glyph
	VectorTile
	RasterTile
	Source
)

func (k Kind) String() string {
	switch k {
	case Style:
		return "style"
	case Sprite:
		return "sprite"
	case Glyph:
		return "glyph"
	case VectorTile:
		return "vector-tile"
	case RasterTile:
		return "raster-tile"
	case Source:
		return "source"
	default:
		return "unknown"
	}
}

// TileCoord is the optional (z, x, y) a resource may be scoped to —
// VectorTile and RasterTile always carry one; Style/Sprite/Glyph/Source
// normally don't.
type TileCoord struct {
	Z, X, Y uint32
	Present bool
}

// Key is the canonical, durable identity of one cacheable resource.
type Key struct {
	Kind       Kind
	URL        string
	Tile       TileCoord
	PixelRatio uint8
}

// Fingerprint returns a stable, cross-process byte encoding of the key,
// suitable as a primary key in the persistent cache store. The encoding is
// deliberately simple (fixed-width leading fields followed by the raw URL
// bytes) rather than a hash, so a store inspection tool can decode it back into a Key without
// a side index — mirroring the way the teacher's MBTiles schema keys tiles
// directly by (zoom_level, tile_column, tile_row) instead of a hash of them.
func (k Key) Fingerprint() []byte {
	buf := make([]byte, 0, 16+len(k.URL))
	buf = append(buf, byte(k.Kind))
	buf = append(buf, k.PixelRatio)

	present := byte(0)
	if k.Tile.Present {
		present = 1
	}
	buf = append(buf, present)

	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], k.Tile.Z)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], k.Tile.X)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], k.Tile.Y)
	buf = append(buf, tmp[:]...)

	buf = append(buf, k.URL...)
	return buf
}

// String is a human-readable rendering used in logs.
func (k Key) String() string {
	if k.Tile.Present {
		return fmt.Sprintf("%s:%s:%d/%d/%d@%dx", k.Kind, k.URL, k.Tile.Z, k.Tile.X, k.Tile.Y, k.PixelRatio)
	}
	return fmt.Sprintf("%s:%s@%dx", k.Kind, k.URL, k.PixelRatio)
}
