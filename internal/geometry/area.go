package geometry

import (
	"github.com/golang/geo/s2"

	"fieldwatch/internal/types"
)

// Mean Earth radius (IUGG) in metres.
const earthRadiusMeters = 6371008.8

const squareMetersPerHectare = 10_000

// AreaHectares returns the geodesic area of the ring described by points.
// The ring may be open or closed; orientation does not matter.
func AreaHectares(points []Point) (float64, error) {
	if len(points) > 1 {
		first, last := points[0], points[len(points)-1]
		if first == last {
			points = points[:len(points)-1]
		}
	}
	if len(points) < MinRingPoints {
		return 0, &types.InvalidGeometryError{Reason: "area needs at least 3 distinct points"}
	}

	vertices := make([]s2.Point, 0, len(points))
	for _, p := range points {
		vertices = append(vertices, s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng)))
	}

	loop := s2.LoopFromPoints(vertices)
	// Treat the ring as the smaller of the two regions it bounds.
	loop.Normalize()

	return loop.Area() * earthRadiusMeters * earthRadiusMeters / squareMetersPerHectare, nil
}
