package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Engine scores measurements against one coefficient snapshot. It keeps no
// state of its own, so a fresh Engine per request is cheap.
type Engine struct {
	snap *store.Snapshot
}

// NewEngine creates an Engine over snap. A nil snapshot behaves as an empty
// coefficient table.
func NewEngine(snap *store.Snapshot) *Engine {
	if snap == nil {
		snap = store.BuildSnapshot(nil)
	}
	return &Engine{snap: snap}
}

// Snapshot returns the coefficients the engine scores against.
func (e *Engine) Snapshot() *store.Snapshot { return e.snap }

// model is a resolved forward/inverse pair for one key.
type model struct {
	kind  curve.Kind
	rate  float64
	x0    float64
	entry store.Entry
}

func (m model) forward(x float64) float64 {
	if m.kind == curve.Logistic {
		return curve.LogisticForward(x, m.rate, m.x0)
	}
	return curve.SaturatingExpForward(x, m.rate, m.x0)
}

func (m model) inverse(s float64) float64 {
	if m.kind == curve.Logistic {
		return curve.LogisticInverse(s, m.rate, m.x0)
	}
	return curve.SaturatingExpInverse(s, m.rate, m.x0)
}

func (e *Engine) resolve(cat kpi.Category, ind kpi.Indicator) (model, error) {
	entry, ok := e.snap.Lookup(cat, ind)
	if !ok {
		return model{}, &ConfigurationError{RailType: cat, KPI: ind}
	}
	m := model{kind: curve.ScoringKind(entry.ModelType), entry: entry}

	switch m.kind {
	case curve.Logistic:
		a, ok := entry.Params["a"]
		if !ok {
			return model{}, &ParameterError{RailType: cat, KPI: ind, Model: m.kind, Param: "a"}
		}
		x0, ok := locationParam(entry.Params)
		if !ok {
			return model{}, &ParameterError{RailType: cat, KPI: ind, Model: m.kind, Param: "X_0"}
		}
		m.rate, m.x0 = a, x0
	default:
		c, ok := entry.Params["c"]
		if !ok {
			return model{}, &ParameterError{RailType: cat, KPI: ind, Model: m.kind, Param: "c"}
		}
		m.rate = c
		m.x0, _ = locationParam(entry.Params)
	}
	return m, nil
}

// locationParam finds X0 under "X0", "X_0", or the first key (sorted) that
// ends in "_0", which is how fitted rows name it (e.g. "TV_0").
func locationParam(params map[string]float64) (float64, bool) {
	if v, ok := params["X0"]; ok {
		return v, true
	}
	if v, ok := params["X_0"]; ok {
		return v, true
	}
	var keys []string
	for k := range params {
		if strings.HasSuffix(k, "_0") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0, false
	}
	sort.Strings(keys)
	return params[keys[0]], true
}

// Score returns the satisfaction for measurement x, rounded to 2 decimals.
func (e *Engine) Score(cat kpi.Category, ind kpi.Indicator, x float64) (float64, error) {
	m, err := e.resolve(cat, ind)
	if err != nil {
		return 0, err
	}
	return round2(m.forward(x)), nil
}

// Inverse returns the measurement that yields score s. The score is clamped
// into [0, S_max] first. The result may be +Inf at the asymptotes.
func (e *Engine) Inverse(cat kpi.Category, ind kpi.Indicator, s float64) (float64, error) {
	m, err := e.resolve(cat, ind)
	if err != nil {
		return 0, err
	}
	return round2(m.inverse(curve.Clamp(s))), nil
}

// SensitivityPoint is one column of a sensitivity table.
type SensitivityPoint struct {
	Label       string  `json:"label"`
	Ratio       float64 `json:"ratio"`
	Measurement float64 `json:"measurement"`
	Score       float64 `json:"score"`
}

var sensitivitySteps = []struct {
	label string
	ratio float64
}{
	{"-20%", 0.8},
	{"-10%", 0.9},
	{"current", 1.0},
	{"+10%", 1.1},
	{"+20%", 1.2},
}

// Sensitivity scores x scaled by 0.8 through 1.2. Negative measurements are
// clamped to 0 before scoring.
func (e *Engine) Sensitivity(cat kpi.Category, ind kpi.Indicator, x float64) ([]SensitivityPoint, error) {
	m, err := e.resolve(cat, ind)
	if err != nil {
		return nil, err
	}
	out := make([]SensitivityPoint, 0, len(sensitivitySteps))
	for _, step := range sensitivitySteps {
		v := math.Max(0, x*step.ratio)
		out = append(out, SensitivityPoint{
			Label:       step.label,
			Ratio:       step.ratio,
			Measurement: round2(v),
			Score:       round2(m.forward(v)),
		})
	}
	return out, nil
}

// round2 rounds to two decimals and leaves infinities alone.
func round2(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return math.Round(v*100) / 100
}
