package composite

import (
	"math"
	"sort"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
)

// Access-time breakpoints for TimeAccessIndex, in minutes.
const (
	AccessTimeFull = 5.0
	AccessTimeZero = 60.0
)

// AggregatePhysicalAccess sums the weights of every selected mode and scales
// the total by the category alpha. Each mode counts once; unknown modes
// contribute nothing. The second return is false when nothing was selected,
// in which case the caller must report (0, 0) without consulting a fitted
// model.
func AggregatePhysicalAccess(selected []string, w AccessWeights) (float64, bool) {
	if len(selected) == 0 {
		return 0, false
	}
	seen := make(map[string]bool, len(selected))
	var sum float64
	for _, mode := range selected {
		if seen[mode] {
			continue
		}
		seen[mode] = true
		sum += w.Modes[mode]
	}
	return w.Alpha * sum, true
}

// AggregateTransferConvenience computes the transfer-convenience score
// directly:
//
//	score = sMax · Σ P_j·(1 − e^(−c_j/d_j))
//
// A zero distance earns full credit P_j. Modes lacking P or c, and negative
// distances, are skipped. The result is clamped into [0, curve.MaxScore].
func AggregateTransferConvenience(distances map[string]float64, coeffs TransferCoefficients, sMax float64) float64 {
	modes := make([]string, 0, len(distances))
	for mode := range distances {
		modes = append(modes, mode)
	}
	sort.Strings(modes)

	var sum float64
	for _, mode := range modes {
		d := distances[mode]
		p, okP := coeffs.P[mode]
		c, okC := coeffs.C[mode]
		if !okP || !okC || d < 0 || math.IsNaN(d) {
			continue
		}
		if d == 0 {
			sum += p
			continue
		}
		sum += p * (1 - math.Exp(-c/d))
	}
	return curve.Clamp(sMax * sum)
}

// EconomicAccess is the unweighted total of the three cost components.
func EconomicAccess(access, rail, parking float64) float64 {
	return access + rail + parking
}

// TimeAccessIndex maps an access time in minutes onto [0, 100]: at most five
// minutes scores 100, an hour or more scores 0, linear in between. The result
// is a measurement for the engine, not a satisfaction score.
func TimeAccessIndex(minutes float64) float64 {
	if math.IsNaN(minutes) {
		return 0
	}
	t := math.Max(AccessTimeFull, math.Min(AccessTimeZero, minutes))
	v := (1 - (t-AccessTimeFull)/(AccessTimeZero-AccessTimeFull)) * 100
	return math.Round(v*100) / 100
}

// ScheduledSpeed converts a distance and a running time into km/h.
func ScheduledSpeed(distanceKm, minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return distanceKm / (minutes / 60)
}

// Ratio divides a by b, returning 0 for a non-positive denominator. Used for
// passengers-per-area comfort measurements.
func Ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

// OccupancyPercent is load over capacity as a percentage.
func OccupancyPercent(load, capacity float64) float64 {
	return Ratio(load, capacity) * 100
}
