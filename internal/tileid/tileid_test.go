package tileid

import (
	"math"
	"net/http"
	"net/url"
	"testing"
)

func TestParseURLRoundTrip(t *testing.T) {
	cases := []struct {
		name           string
		z              uint8
		x, y           uint64
		format         Format
	}{
		{"default", 0, 0, 0, PNG},
		{"default", 3, 2, 1, PNG},
		{"osm", 18, 131072, 87381, JPG},
		{"with-dashes", 22, (1 << 22) - 1, (1 << 22) - 1, PNG},
	}

	for _, tt := range cases {
		raw := FormatURL(tt.name, tt.z, tt.x, tt.y, tt.format)
		req := &http.Request{URL: &url.URL{Path: raw}}

		got, ok := Parse(req)
		if !ok {
			t.Fatalf("Parse(%q) failed to match", raw)
		}
		want := TileId{Name: tt.name, Z: tt.z, X: tt.x, Y: tt.y, Format: tt.format}
		if got != want {
			t.Errorf("Parse(%q) = %+v, want %+v", raw, got, want)
		}
	}
}

func TestParseQueryShape(t *testing.T) {
	req := &http.Request{URL: &url.URL{Path: "/default", RawQuery: "x=3&y=4&z=5"}}
	got, ok := Parse(req)
	if !ok {
		t.Fatal("expected query-shape match")
	}
	want := TileId{Name: "default", Z: 5, X: 3, Y: 4, Format: PNG}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseQueryAndPathShapeAgree(t *testing.T) {
	pathReq := &http.Request{URL: &url.URL{Path: "/default/5/3/4.png"}}
	queryReq := &http.Request{URL: &url.URL{Path: "/default", RawQuery: "x=3&y=4&z=5"}}

	pathID, ok := Parse(pathReq)
	if !ok {
		t.Fatal("path shape failed to parse")
	}
	queryID, ok := Parse(queryReq)
	if !ok {
		t.Fatal("query shape failed to parse")
	}
	if pathID.CacheKey() != queryID.CacheKey() {
		t.Errorf("cache keys differ: %s vs %s", pathID.CacheKey(), queryID.CacheKey())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{"/bogus-path", "/default/abc/1/2", "/"}
	for _, p := range cases {
		req := &http.Request{URL: &url.URL{Path: p}}
		if _, ok := Parse(req); ok {
			t.Errorf("Parse(%q) unexpectedly matched", p)
		}
	}
}

func TestParseRejectsOutOfRangeCoords(t *testing.T) {
	req := &http.Request{URL: &url.URL{Path: "/default/1/5/5.png"}}
	if _, ok := Parse(req); ok {
		t.Error("expected out-of-range x/y at z=1 to be rejected")
	}
}

func TestToCenterOrigin(t *testing.T) {
	c := ToCenter(TileId{Z: 0, X: 0, Y: 0})
	if math.Abs(c.Lon) > 1e-9 {
		t.Errorf("lon = %v, want ~0", c.Lon)
	}
	if math.Abs(c.Lat) > 1e-9 {
		t.Errorf("lat = %v, want ~0", c.Lat)
	}
}

func TestToCenterZoom1(t *testing.T) {
	west := ToCenter(TileId{Z: 1, X: 0, Y: 0})
	east := ToCenter(TileId{Z: 1, X: 1, Y: 0})
	if math.Abs(west.Lon-(-90)) > 1e-9 {
		t.Errorf("west lon = %v, want -90", west.Lon)
	}
	if math.Abs(east.Lon-90) > 1e-9 {
		t.Errorf("east lon = %v, want 90", east.Lon)
	}
}

func TestToCenterLatitudeMatchesInverseGudermannian(t *testing.T) {
	// z=1, y=0 covers the northern hemisphere tile; its linear midpoint is
	// y+0.5 = 0.5, so its center latitude is atan(sinh(pi/2)) in degrees,
	// not the average of its edge latitudes (0 and ~85.05), since the
	// inverse Mercator transform is nonlinear.
	c := ToCenter(TileId{Z: 1, X: 0, Y: 0})
	want := math.Atan(math.Sinh(math.Pi/2)) * 180 / math.Pi
	if math.Abs(c.Lat-want) > 1e-6 {
		t.Errorf("lat = %v, want %v (~66.51)", c.Lat, want)
	}
}

func TestToCenterLatitudeBounded(t *testing.T) {
	for z := uint8(0); z <= 10; z++ {
		n := uint64(1) << z
		for _, y := range []uint64{0, n - 1} {
			c := ToCenter(TileId{Z: z, X: 0, Y: y})
			if c.Lat > 85.06 || c.Lat < -85.06 {
				t.Errorf("z=%d y=%d lat=%v out of Web Mercator range", z, y, c.Lat)
			}
		}
	}
}
