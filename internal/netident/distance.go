package netident

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// Haversine computes the great-circle distance in kilometers between two
// coordinate pairs. Symmetric in its endpoints and never negative.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1 = lat1 * (math.Pi / 180.0)
	lat2 = lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// MinimumPause derives the mandatory quiet period after an identity change:
// the time a single traveler would need to cover the distance at the assumed
// maximum speed, never less than the configured floor. The floor applies even
// for zero-distance changes because many services rate-limit login frequency
// regardless of geography.
func MinimumPause(distanceKm, maxTravelKmh float64, floor time.Duration) time.Duration {
	travel := time.Duration(distanceKm / maxTravelKmh * float64(time.Hour))
	if travel < floor {
		return floor
	}
	return travel
}
