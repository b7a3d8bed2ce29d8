package composite

import (
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// DefaultAlpha scales the physical-access sum when no category alpha is stored.
const DefaultAlpha = 1.0

// DefaultTransferMax is the transfer-convenience S_max used when none is stored.
const DefaultTransferMax = 10.0

// AccessWeights holds the per-mode weights and scalar for one rail category.
type AccessWeights struct {
	Modes map[string]float64 `json:"modes"`
	Alpha float64            `json:"alpha"`
}

// Sum returns the total of all mode weights.
func (w AccessWeights) Sum() float64 {
	var total float64
	for _, v := range w.Modes {
		total += v
	}
	return total
}

// Validate rejects negative or non-finite weights.
func (w AccessWeights) Validate() error {
	for mode, v := range w.Modes {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid weight for mode %s: %f", mode, v)
		}
	}
	if math.IsNaN(w.Alpha) || math.IsInf(w.Alpha, 0) {
		return fmt.Errorf("invalid alpha: %f", w.Alpha)
	}
	return nil
}

// Clone returns a deep copy.
func (w AccessWeights) Clone() AccessWeights {
	modes := make(map[string]float64, len(w.Modes))
	for k, v := range w.Modes {
		modes[k] = v
	}
	return AccessWeights{Modes: modes, Alpha: w.Alpha}
}

// TransferCoefficients holds the calibrated (P, c) pair per transfer mode for
// one rail category.
type TransferCoefficients struct {
	P map[string]float64 `json:"p"`
	C map[string]float64 `json:"c"`
}

// Clone returns a deep copy.
func (t TransferCoefficients) Clone() TransferCoefficients {
	out := TransferCoefficients{P: make(map[string]float64, len(t.P)), C: make(map[string]float64, len(t.C))}
	for k, v := range t.P {
		out.P[k] = v
	}
	for k, v := range t.C {
		out.C[k] = v
	}
	return out
}

// DefaultPhysicalAccessWeights returns the survey-derived mode weights used
// when a category has no persisted w_<mode> rows. A fresh map is returned on
// every call.
func DefaultPhysicalAccessWeights() map[kpi.Category]AccessWeights {
	return map[kpi.Category]AccessWeights{
		kpi.HighSpeed: {
			Alpha: DefaultAlpha,
			Modes: map[string]float64{
				kpi.ModeWalk: 10.28, kpi.ModeTaxi: 26.64, kpi.ModeCar: 20.56, kpi.ModeBicycle: 0.47,
				kpi.ModeSharedPM: 0.47, kpi.ModeLocalBus: 18.22, kpi.ModeExpressBus: 4.21, kpi.ModeSubway: 19.16,
			},
		},
		kpi.Conventional: {
			Alpha: DefaultAlpha,
			Modes: map[string]float64{
				kpi.ModeWalk: 5.97, kpi.ModeTaxi: 30.59, kpi.ModeCar: 23.13, kpi.ModeBicycle: 2.24,
				kpi.ModeSharedPM: 1.49, kpi.ModeLocalBus: 27.61, kpi.ModeExpressBus: 5.22, kpi.ModeSubway: 3.73,
			},
		},
		kpi.Metropolitan: {
			Alpha: DefaultAlpha,
			Modes: map[string]float64{
				kpi.ModeWalk: 39.06, kpi.ModeTaxi: 9.67, kpi.ModeCar: 6.81, kpi.ModeBicycle: 5.38,
				kpi.ModeSharedPM: 3.58, kpi.ModeLocalBus: 23.66, kpi.ModeExpressBus: 3.58, kpi.ModeSubway: 8.24,
			},
		},
	}
}
