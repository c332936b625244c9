package geo

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadius is the equatorial radius in meters used by every distance here.
const EarthRadius = orb.EarthRadius

// Envelope inside which the planar approximation stays within ~2% of great-circle.
const (
	PlanarMaxLatSpan      = 30.0
	PlanarMaxCombinedSpan = 100.0
)

// Point is a WGS84 location in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (p Point) orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

// PlanarDistance is an equirectangular approximation in meters.
func PlanarDistance(a, b Point) float64 {
	meanLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	x := (b.Lon - a.Lon) * math.Pi / 180 * math.Cos(meanLat)
	y := (b.Lat - a.Lat) * math.Pi / 180
	return EarthRadius * math.Sqrt(x*x+y*y)
}

// SphericalDistance is the haversine great-circle distance in meters.
func SphericalDistance(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.orb(), b.orb())
}

// PlanarSafe reports whether a and b are close enough for PlanarDistance.
func PlanarSafe(a, b Point) bool {
	dLat := math.Abs(a.Lat - b.Lat)
	dLon := math.Abs(a.Lon - b.Lon)
	return dLat <= PlanarMaxLatSpan && dLat+dLon <= PlanarMaxCombinedSpan
}

// FlyingDistance picks the planar or spherical formula. Missing points are 0 apart.
func FlyingDistance(a, b *Point) float64 {
	if a == nil || b == nil {
		return 0
	}
	if PlanarSafe(*a, *b) {
		return PlanarDistance(*a, *b)
	}
	return SphericalDistance(*a, *b)
}

// LocationKey identifies a location at S2 leaf-cell resolution (about 1cm),
// so two points with the same key are treated as the same place.
func LocationKey(p Point) uint64 {
	return uint64(s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)))
}

// DistinctLocations counts points with distinct LocationKey.
func DistinctLocations(points []Point) int {
	seen := make(map[uint64]struct{}, len(points))
	for _, p := range points {
		seen[LocationKey(p)] = struct{}{}
	}
	return len(seen)
}
