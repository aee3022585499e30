// Package geo holds the great-circle helpers used to derive travel metrics
// from raw GPS fixes. Everything here is a pure function.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371e3

// Unbounded is returned by RemainingTime when no finite projection exists.
const Unbounded = time.Duration(math.MaxInt64)

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	if a == b {
		return 0
	}

	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Rounding can push h slightly outside [0,1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// SpeedKmh converts a distance covered over elapsed into km/h.
// It returns 0 when elapsed is not positive.
func SpeedKmh(distanceMeters float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceMeters / elapsed.Seconds() * 3.6
}

// RemainingTime projects how long covering distanceMeters takes at speedKmh.
// A non-positive speed means there is no signal yet and yields Unbounded.
func RemainingTime(distanceMeters, speedKmh float64) time.Duration {
	if speedKmh <= 0 || math.IsNaN(speedKmh) || math.IsNaN(distanceMeters) {
		return Unbounded
	}
	if distanceMeters <= 0 {
		return 0
	}

	metersPerSecond := speedKmh * 1000 / 3600
	seconds := distanceMeters / metersPerSecond
	if seconds*float64(time.Second) >= float64(math.MaxInt64) {
		return Unbounded
	}
	return time.Duration(seconds * float64(time.Second))
}

// IsUnbounded reports whether d is the Unbounded sentinel.
func IsUnbounded(d time.Duration) bool {
	return d == Unbounded
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
