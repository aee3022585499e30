package tracking

import (
	"math"
	"time"

	"delivery-tracker/internal/geo"
)

// CalculateMetrics derives travel metrics from the position history, the
// latest ETA estimate and the delivery info. history must be in timestamp
// order. It never mutates its inputs.
func CalculateMetrics(history []Position, lastEta *EtaEstimate, info *DeliveryInfo, now time.Time) Metrics {
	m := Metrics{Proximity: ProximityNone}

	if len(history) >= 2 {
		for i := 1; i < len(history); i++ {
			m.DistanceTraveled += geo.Distance(history[i-1].Coordinate(), history[i].Coordinate())
		}

		elapsed := history[len(history)-1].Timestamp.Sub(history[0].Timestamp)
		m.AverageSpeed = geo.SpeedKmh(m.DistanceTraveled, elapsed)
	}

	if lastEta != nil {
		m.RemainingDistance = math.Max(0, lastEta.RemainingDistance)
		m.Proximity = ClassifyProximity(m.RemainingDistance)
	}

	m.RemainingTime = geo.RemainingTime(m.RemainingDistance, m.AverageSpeed)

	switch {
	case !geo.IsUnbounded(m.RemainingTime) && m.RemainingDistance > 0:
		eta := now.Add(m.RemainingTime)
		m.ETA = &eta
	case lastEta != nil:
		eta := lastEta.ETA
		m.ETA = &eta
	case info != nil && info.EstimatedArrival != nil:
		eta := *info.EstimatedArrival
		m.ETA = &eta
	}

	m.CompletionPercentage = completion(m.DistanceTraveled, m.RemainingDistance)

	return m
}

func completion(traveled, remaining float64) int {
	total := traveled + remaining
	if total <= 0 {
		return 0
	}

	pct := int(math.Round(100 * traveled / total))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	// Rounding must not report completion while distance remains.
	if pct == 100 && remaining > 0 {
		pct = 99
	}
	return pct
}
