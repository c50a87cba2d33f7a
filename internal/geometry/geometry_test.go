package geometry

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwatch/internal/types"
)

var farm = []Point{
	{Lat: -1.2921, Lng: 36.8219},
	{Lat: -1.2921, Lng: 36.8319},
	{Lat: -1.2821, Lng: 36.8319},
	{Lat: -1.2821, Lng: 36.8219},
}

func TestToPolygonGeometry(t *testing.T) {
	t.Run("closes open ring and swaps axis order", func(t *testing.T) {
		poly, err := ToPolygonGeometry(farm)
		require.NoError(t, err)
		require.Len(t, poly, 1)

		ring := poly[0]
		require.Len(t, ring, len(farm)+1)
		assert.Equal(t, ring[0], ring[len(ring)-1])
		assert.Equal(t, orb.Point{36.8219, -1.2921}, ring[0])
	})

	t.Run("already closed ring is not closed twice", func(t *testing.T) {
		closed := append(append([]Point{}, farm...), farm[0])
		poly, err := ToPolygonGeometry(closed)
		require.NoError(t, err)
		assert.Len(t, poly[0], len(closed))
	})

	t.Run("closure uses exact equality", func(t *testing.T) {
		nearly := append(append([]Point{}, farm...), Point{Lat: farm[0].Lat + 1e-12, Lng: farm[0].Lng})
		poly, err := ToPolygonGeometry(nearly)
		require.NoError(t, err)
		assert.Len(t, poly[0], len(nearly)+1)
	})

	for _, n := range []int{0, 1, 2} {
		t.Run("too few points", func(t *testing.T) {
			_, err := ToPolygonGeometry(farm[:n])
			var geomErr *types.InvalidGeometryError
			require.True(t, errors.As(err, &geomErr))
		})
	}
}

func TestPointListRoundTrip(t *testing.T) {
	poly, err := ToPolygonGeometry(farm[:3])
	require.NoError(t, err)
	assert.Equal(t, farm[:3], ToPointList(poly))

	multi := orb.MultiPolygon{poly, {{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	assert.Equal(t, farm[:3], ToPointList(multi))
}

func TestToPointListTolerantOfBadInput(t *testing.T) {
	tests := []struct {
		name string
		g    orb.Geometry
	}{
		{"nil", nil},
		{"point", orb.Point{1, 2}},
		{"empty polygon", orb.Polygon{}},
		{"empty multipolygon", orb.MultiPolygon{}},
		{"multipolygon with empty polygon", orb.MultiPolygon{orb.Polygon{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := ToPointList(tt.g)
			assert.NotNil(t, pts)
			assert.Empty(t, pts)
		})
	}
}

func TestParsePointList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"bare polygon", `{"type":"Polygon","coordinates":[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.1],[36.8,-1.2]]]}`, 3},
		{"feature", `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.1],[36.8,-1.2]]]}}`, 3},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]]]}`, 4},
		{"null", `null`, 0},
		{"garbage", `{{{`, 0},
		{"no type", `{"coordinates":[]}`, 0},
		{"feature without geometry", `{"type":"Feature","properties":{},"geometry":null}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ParsePointList([]byte(tt.raw)), tt.want)
		})
	}

	pts := ParsePointList([]byte(tests[0].raw))
	assert.Equal(t, Point{Lat: -1.2, Lng: 36.8}, pts[0])
}

func TestCentroidIsBBoxMidpoint(t *testing.T) {
	// An L-shape: the area-weighted centroid would be pulled toward the
	// lower-left, the bbox midpoint is not.
	poly := orb.Polygon{{{0, 0}, {4, 0}, {4, 1}, {1, 1}, {1, 4}, {0, 4}, {0, 0}}}
	assert.Equal(t, Point{Lat: 2, Lng: 2}, Centroid(poly))

	assert.Equal(t, Point{}, Centroid(nil))
	assert.Equal(t, Point{}, Centroid(orb.Polygon{}))
}

func TestBoundingBox(t *testing.T) {
	bb, err := BoundingBox(farm)
	require.NoError(t, err)
	assert.Equal(t, []float64{36.8219, -1.2921, 36.8319, -1.2821}, bb.Slice())

	single, err := BoundingBox(farm[:1])
	require.NoError(t, err)
	assert.Equal(t, single.MinLat, single.MaxLat)

	_, err = BoundingBox(nil)
	var geomErr *types.InvalidGeometryError
	assert.True(t, errors.As(err, &geomErr))
}

func TestEncodeGeoJSON(t *testing.T) {
	poly, err := ToPolygonGeometry(farm[:3])
	require.NoError(t, err)

	raw, err := EncodeGeoJSON(poly)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"Polygon"`)
	assert.Equal(t, farm[:3], ParsePointList(raw))

	_, err = EncodeGeoJSON(nil)
	assert.Error(t, err)
}

func TestStaticMapImageURL(t *testing.T) {
	poly, err := ToPolygonGeometry(farm)
	require.NoError(t, err)

	t.Run("placeholder without token", func(t *testing.T) {
		got := StaticMapImageURL(poly, "", StaticMapOptions{Width: 300, Height: 200})
		assert.Equal(t, "https://placehold.co/300x200?text=Map+unavailable", got)
	})

	t.Run("defaults applied", func(t *testing.T) {
		got := StaticMapImageURL(poly, "pk.test", StaticMapOptions{})
		assert.True(t, strings.HasPrefix(got, "https://api.mapbox.com/styles/v1/mapbox/satellite-v9/static/geojson("))
		assert.Contains(t, got, "/auto/600x400?")

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "pk.test", u.Query().Get("access_token"))
		assert.Equal(t, "20", u.Query().Get("padding"))
		assert.Contains(t, u.Path, `"type":"Feature"`)
		assert.Contains(t, u.Path, "36.8219")
	})

	t.Run("custom options and clamped size", func(t *testing.T) {
		got := StaticMapImageURL(poly, "pk.test", StaticMapOptions{
			BaseURL: "http://maps.local/",
			Style:   "acme/outdoors",
			Width:   5000,
			Height:  100,
			Padding: 5,
		})
		assert.True(t, strings.HasPrefix(got, "http://maps.local/styles/v1/acme/outdoors/static/"))
		assert.Contains(t, got, "/auto/1280x100?")
		assert.Contains(t, got, "padding=5")
	})
}

func TestAreaHectares(t *testing.T) {
	// 0.01 x 0.01 degrees at the equator is about 1112m x 1112m.
	square := []Point{{0, 0}, {0, 0.01}, {0.01, 0.01}, {0.01, 0}}

	area, err := AreaHectares(square)
	require.NoError(t, err)
	assert.InDelta(t, 123.6, area, 0.5)

	reversed := []Point{square[3], square[2], square[1], square[0], square[3]}
	areaRev, err := AreaHectares(reversed)
	require.NoError(t, err)
	assert.InDelta(t, area, areaRev, 1e-6)

	_, err = AreaHectares(square[:2])
	assert.Error(t, err)
}
