// Package geo provides great-circle distance helpers for position fixes.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const metersPerMile = 1609.344

// DistanceMiles returns the great-circle distance between two lat/lon pairs in
// statute miles.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	// orb points are (lon, lat).
	return geo.Distance(orb.Point{lon1, lat1}, orb.Point{lon2, lat2}) / metersPerMile
}
