package scoring

import (
	"math"

	"github.com/MikeSquared-Agency/RailKPI/internal/composite"
	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// Costs are the three components of the economic accessibility measurement.
type Costs struct {
	Access  float64 `json:"access"`
	Rail    float64 `json:"rail"`
	Parking float64 `json:"parking"`
}

// IndicatorRequest carries whatever inputs an indicator needs. Composite
// indicators read Modes (PAI), Distances (TCI) or Costs (EAI); everything
// else reads Measurement.
type IndicatorRequest struct {
	RailType    kpi.Category       `json:"rail_type"`
	KPI         kpi.Indicator      `json:"kpi"`
	Measurement *float64           `json:"measurement,omitempty"`
	Modes       []string           `json:"modes,omitempty"`
	Distances   map[string]float64 `json:"distances,omitempty"`
	Costs       *Costs             `json:"costs,omitempty"`
}

// IndicatorScore is a measurement together with its satisfaction.
type IndicatorScore struct {
	RailType kpi.Category  `json:"rail_type"`
	KPI      kpi.Indicator `json:"kpi"`
	Value    float64       `json:"value"`
	Score    float64       `json:"score"`
}

// ScoreIndicator computes the indicator value from req and scores it.
// Transfer convenience is a score by construction and bypasses the fitted
// model; an empty physical-access selection scores 0 without consulting it.
func (e *Engine) ScoreIndicator(req IndicatorRequest) (IndicatorScore, error) {
	cat := kpi.NormalizeCategory(string(req.RailType))
	ind := kpi.NormalizeIndicator(string(req.KPI))
	out := IndicatorScore{RailType: cat, KPI: ind}

	var value float64
	switch {
	case ind == kpi.TransferConvenience:
		coeffs, sMax := e.snap.TransferCoefficients(cat)
		if len(coeffs.P) == 0 {
			return out, &ConfigurationError{RailType: cat, KPI: ind}
		}
		distances := make(map[string]float64, len(req.Distances))
		for mode, d := range req.Distances {
			distances[kpi.NormalizeMode(mode)] = d
		}
		s := round2(composite.AggregateTransferConvenience(distances, coeffs, sMax))
		out.Value, out.Score = s, s
		return out, nil

	case ind == kpi.PhysicalAccess && req.Measurement == nil:
		weights, ok := e.snap.AccessWeights(cat)
		if !ok {
			return out, &ConfigurationError{RailType: cat, KPI: ind}
		}
		modes := make([]string, len(req.Modes))
		for i, m := range req.Modes {
			modes[i] = kpi.NormalizeMode(m)
		}
		v, selected := composite.AggregatePhysicalAccess(modes, weights)
		if !selected {
			return out, nil
		}
		value = v

	case ind == kpi.EconomicAccess && req.Costs != nil:
		value = composite.EconomicAccess(req.Costs.Access, req.Costs.Rail, req.Costs.Parking)

	default:
		if req.Measurement == nil {
			return out, invalidf("%s requires a measurement", ind)
		}
		value = *req.Measurement
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return out, invalidf("%s measurement must be finite", ind)
	}
	s, err := e.Score(cat, ind, value)
	if err != nil {
		return out, err
	}
	out.Value, out.Score = round2(value), s
	return out, nil
}

// ProjectionRequest compares today's measurement against a future scenario
// and a goal. The future side is given either as a measurement or as an
// expected score; the goal likewise.
type ProjectionRequest struct {
	RailType        kpi.Category  `json:"rail_type"`
	KPI             kpi.Indicator `json:"kpi"`
	Current         float64       `json:"current"`
	Future          *float64      `json:"future,omitempty"`
	PredictedScore  *float64      `json:"predicted_score,omitempty"`
	GoalScore       *float64      `json:"goal_score,omitempty"`
	GoalMeasurement *float64      `json:"goal_measurement,omitempty"`
}

// Projection is the outcome of a scenario comparison. Values may be +Inf
// when a score sits on a model asymptote.
type Projection struct {
	RailType       kpi.Category  `json:"rail_type"`
	KPI            kpi.Indicator `json:"kpi"`
	CurrentValue   float64       `json:"current_value"`
	CurrentScore   float64       `json:"current_score"`
	PredictedValue float64       `json:"predicted_value"`
	PredictedScore float64       `json:"predicted_score"`
	GoalValue      float64       `json:"goal_value"`
	GoalScore      float64       `json:"goal_score"`
	Gap            float64       `json:"gap"`
	IsFail         bool          `json:"is_fail"`
}

// Project evaluates req. A predicted score below the goal score marks the
// projection as failing. For transfer convenience the value is the score.
func (e *Engine) Project(req ProjectionRequest) (Projection, error) {
	cat := kpi.NormalizeCategory(string(req.RailType))
	ind := kpi.NormalizeIndicator(string(req.KPI))
	p := Projection{RailType: cat, KPI: ind}

	if req.Future == nil && req.PredictedScore == nil {
		return p, invalidf("projection needs a future measurement or a predicted score")
	}
	if req.GoalScore == nil && req.GoalMeasurement == nil {
		return p, invalidf("projection needs a goal score or a goal measurement")
	}

	forward := func(x float64) (float64, error) { return e.Score(cat, ind, x) }
	inverse := func(s float64) (float64, error) { return e.Inverse(cat, ind, s) }
	if ind == kpi.TransferConvenience {
		identity := func(v float64) (float64, error) { return round2(curve.Clamp(v)), nil }
		forward, inverse = identity, identity
	}

	var err error
	p.CurrentValue = round2(req.Current)
	if p.CurrentScore, err = forward(req.Current); err != nil {
		return p, err
	}

	if req.PredictedScore != nil {
		p.PredictedScore = round2(curve.Clamp(*req.PredictedScore))
		if p.PredictedValue, err = inverse(p.PredictedScore); err != nil {
			return p, err
		}
	} else {
		p.PredictedValue = round2(*req.Future)
		if p.PredictedScore, err = forward(*req.Future); err != nil {
			return p, err
		}
	}

	if req.GoalScore != nil {
		p.GoalScore = round2(curve.Clamp(*req.GoalScore))
		if p.GoalValue, err = inverse(p.GoalScore); err != nil {
			return p, err
		}
	} else {
		p.GoalValue = round2(*req.GoalMeasurement)
		if p.GoalScore, err = forward(*req.GoalMeasurement); err != nil {
			return p, err
		}
	}

	p.Gap = round2(p.GoalScore - p.PredictedScore)
	p.IsFail = p.PredictedScore < p.GoalScore
	return p, nil
}
