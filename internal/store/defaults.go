package store

import (
	"sort"

	"github.com/MikeSquared-Agency/RailKPI/internal/composite"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// DefaultCoefficients returns the rows restored when no seed table is
// configured: the built-in physical-access weights and alpha per category.
func DefaultCoefficients() []Coefficient {
	defaults := composite.DefaultPhysicalAccessWeights()
	var rows []Coefficient
	for _, cat := range kpi.Categories {
		w, ok := defaults[cat]
		if !ok {
			continue
		}
		modes := make([]string, 0, len(w.Modes))
		for m := range w.Modes {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		for _, m := range modes {
			rows = append(rows, Coefficient{
				RailType: cat, KPI: kpi.PhysicalAccess, ModelType: DefaultModelType,
				Param1Name: "w_" + m, Param1Value: Float(w.Modes[m]),
			})
		}
		rows = append(rows, Coefficient{
			RailType: cat, KPI: kpi.PhysicalAccess, ModelType: DefaultModelType,
			Param1Name: "alpha", Param1Value: Float(w.Alpha),
		})
	}
	return rows
}
