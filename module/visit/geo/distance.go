package geo

import (
	"github.com/golang/geo/s2"

	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
)

const EarthRadiusMeters = 6371000

// DistanceMeters returns the great-circle distance between a and b.
// s2.LatLng.Distance evaluates the haversine formula.
func DistanceMeters(a, b domain.Coordinate) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Within reports whether p lies inside the circle of radiusMeters around center.
func Within(center, p domain.Coordinate, radiusMeters float64) bool {
	return DistanceMeters(center, p) <= radiusMeters
}
