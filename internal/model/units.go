package model

import "math"

const (
	knotsPerKph = 0.539957
	knotsPerMps = 1.943844
	// equatorial radius, km
	earthRadius = 6378.1370
)

func KnotsFromKph(v float64) float64 { return v * knotsPerKph }
func KnotsFromMps(v float64) float64 { return v * knotsPerMps }
func KphFromKnots(v float64) float64 { return v / knotsPerKph }
func MpsFromKnots(v float64) float64 { return v / knotsPerMps }

// Distance returns the haversine distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c * 1000
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Round2 rounds half to even at two decimals.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
