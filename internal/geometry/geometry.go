// Package geometry converts farm boundaries between the point-list form
// captured by clients and the GeoJSON geometry form used by imagery backends
// and persistence.
package geometry

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fieldwatch/internal/types"
)

// MinRingPoints is the smallest number of distinct vertices accepted for a
// boundary ring.
const MinRingPoints = 3

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// BBox holds the bounds of a set of points in GeoJSON axis order.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Slice returns the bbox as [minLng, minLat, maxLng, maxLat].
func (b BBox) Slice() []float64 {
	return []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat}
}

// ToPolygonGeometry builds a single-ring polygon from the given points.
// Coordinates are swapped to (lng, lat) and the ring is closed when the first
// and last points are not exactly equal. No tolerance is applied and
// self-intersection is not checked.
func ToPolygonGeometry(points []Point) (orb.Polygon, error) {
	if len(points) < MinRingPoints {
		return nil, &types.InvalidGeometryError{
			Reason: fmt.Sprintf("a boundary needs at least %d points, got %d", MinRingPoints, len(points)),
		}
	}

	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.Lng, p.Lat})
	}
	if first, last := points[0], points[len(points)-1]; first.Lat != last.Lat || first.Lng != last.Lng {
		ring = append(ring, ring[0])
	}

	return orb.Polygon{ring}, nil
}

// ToPointList returns the outer ring of a Polygon, or of the first polygon of
// a MultiPolygon, as (lat, lng) points without the closing duplicate. Any
// other or empty input yields an empty slice.
func ToPointList(g orb.Geometry) []Point {
	var ring orb.Ring
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			ring = v[0]
		}
	case orb.MultiPolygon:
		if len(v) > 0 && len(v[0]) > 0 {
			ring = v[0][0]
		}
	}

	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}

	points := make([]Point, 0, len(ring))
	for _, c := range ring {
		points = append(points, Point{Lat: c.Lat(), Lng: c.Lon()})
	}
	return points
}

// ParseGeometry decodes raw GeoJSON, either a bare geometry or a Feature.
// Callers that must tolerate bad input should use ParsePointList instead.
func ParseGeometry(raw []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &types.InvalidGeometryError{Reason: "geometry is not valid JSON"}
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil || f.Geometry == nil {
			return nil, &types.InvalidGeometryError{Reason: "feature has no usable geometry"}
		}
		return f.Geometry, nil
	case "":
		return nil, &types.InvalidGeometryError{Reason: "geometry has no type"}
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, &types.InvalidGeometryError{Reason: fmt.Sprintf("cannot decode %s geometry", head.Type)}
		}
		return g.Geometry(), nil
	}
}

// ParsePointList is the lenient form of ParseGeometry followed by
// ToPointList: null or malformed input yields an empty slice.
func ParsePointList(raw []byte) []Point {
	g, err := ParseGeometry(raw)
	if err != nil {
		return []Point{}
	}
	return ToPointList(g)
}

// Centroid returns the midpoint of the geometry's coordinate bounding box.
// This is deliberately not an area-weighted centroid: it is only meant for
// centering map viewports. Use AreaHectares for anything measured.
func Centroid(g orb.Geometry) Point {
	if g == nil {
		return Point{}
	}
	b := g.Bound()
	if b.IsEmpty() {
		return Point{}
	}
	c := b.Center()
	return Point{Lat: c.Lat(), Lng: c.Lon()}
}

// BoundingBox reduces the points to their min/max bounds.
func BoundingBox(points []Point) (BBox, error) {
	if len(points) == 0 {
		return BBox{}, &types.InvalidGeometryError{Reason: "cannot compute a bounding box of zero points"}
	}

	bb := BBox{
		MinLng: points[0].Lng, MaxLng: points[0].Lng,
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
	}
	for _, p := range points[1:] {
		bb.MinLng = min(bb.MinLng, p.Lng)
		bb.MaxLng = max(bb.MaxLng, p.Lng)
		bb.MinLat = min(bb.MinLat, p.Lat)
		bb.MaxLat = max(bb.MaxLat, p.Lat)
	}
	return bb, nil
}

// EncodeGeoJSON marshals a geometry as a bare GeoJSON geometry object.
func EncodeGeoJSON(g orb.Geometry) (json.RawMessage, error) {
	if g == nil {
		return nil, &types.InvalidGeometryError{Reason: "nil geometry"}
	}
	b, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding geojson: %w", err)
	}
	return b, nil
}
