package tracking

// ProximityLevel classifies how close the courier is to the drop-off.
type ProximityLevel string

const (
	ProximityNone        ProximityLevel = "NONE"
	ProximityApproaching ProximityLevel = "APPROACHING"
	ProximityNearby      ProximityLevel = "NEARBY"
	ProximityArrived     ProximityLevel = "ARRIVED"
)

// Thresholds in meters.
const (
	ApproachingDistance = 2000
	NearbyDistance      = 500
	ArrivedDistance     = 50
)

// ClassifyProximity maps a remaining distance in meters to a proximity level.
func ClassifyProximity(remainingMeters float64) ProximityLevel {
	switch {
	case remainingMeters < 0:
		return ProximityNone
	case remainingMeters <= ArrivedDistance:
		return ProximityArrived
	case remainingMeters <= NearbyDistance:
		return ProximityNearby
	case remainingMeters <= ApproachingDistance:
		return ProximityApproaching
	default:
		return ProximityNone
	}
}
