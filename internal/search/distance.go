package search

import "math"

// EarthRadiusMiles is the spherical-earth radius used for every distance
// computation in the system. Radius search and alert-area membership must
// share this constant so they agree on what counts as nearby.
const EarthRadiusMiles = 3958.8

// DistanceMiles computes the great-circle distance between two points
// using the haversine formula.
func DistanceMiles(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * EarthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}
