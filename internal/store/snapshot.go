package store

import (
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/RailKPI/internal/composite"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// Entry is the fitted model for one (rail_type, kpi).
type Entry struct {
	ModelType string             `json:"model_type"`
	Params    map[string]float64 `json:"params"`
	RSquared  *float64           `json:"r_squared,omitempty"`
}

// Snapshot is an immutable view of the coefficient table. It is rebuilt
// from the full row set on every load and never patched.
type Snapshot struct {
	entries     map[kpi.Category]map[kpi.Indicator]Entry
	access      map[kpi.Category]composite.AccessWeights
	transfer    map[kpi.Category]composite.TransferCoefficients
	transferMax map[kpi.Category]float64
	rows        []Coefficient
	version     uint64
	loadedAt    time.Time
}

// BuildSnapshot indexes rows. The first row seen for a key decides its model
// type. Rows without both a name and a value contribute no parameter.
func BuildSnapshot(rows []Coefficient) *Snapshot {
	s := &Snapshot{
		entries:     make(map[kpi.Category]map[kpi.Indicator]Entry),
		access:      make(map[kpi.Category]composite.AccessWeights),
		transfer:    make(map[kpi.Category]composite.TransferCoefficients),
		transferMax: make(map[kpi.Category]float64),
		rows:        make([]Coefficient, 0, len(rows)),
		loadedAt:    time.Now().UTC(),
	}

	modeWeights := make(map[kpi.Category]map[string]float64)
	alphas := make(map[kpi.Category]float64)

	for _, raw := range rows {
		r := raw.Normalize()
		s.rows = append(s.rows, r)

		byKPI, ok := s.entries[r.RailType]
		if !ok {
			byKPI = make(map[kpi.Indicator]Entry)
			s.entries[r.RailType] = byKPI
		}
		entry, ok := byKPI[r.KPI]
		if !ok {
			entry = Entry{ModelType: r.ModelType, Params: make(map[string]float64)}
		}
		if entry.RSquared == nil && r.RSquared != nil {
			entry.RSquared = Float(*r.RSquared)
		}

		switch r.KPI {
		case kpi.PhysicalAccess:
			if r.Param1Value != nil {
				if mode, ok := strings.CutPrefix(r.Param1Name, "w_"); ok {
					if modeWeights[r.RailType] == nil {
						modeWeights[r.RailType] = make(map[string]float64)
					}
					modeWeights[r.RailType][kpi.NormalizeMode(mode)] = *r.Param1Value
				} else if r.Param1Name == "alpha" {
					alphas[r.RailType] = *r.Param1Value
				}
			}
		case kpi.TransferConvenience:
			if r.Param1Value != nil {
				tc := s.transferFor(r.RailType)
				switch {
				case r.Param1Name == "S_max":
					s.transferMax[r.RailType] = *r.Param1Value
				case strings.HasPrefix(r.Param1Name, "P_"):
					tc.P[kpi.NormalizeMode(r.Param1Name[2:])] = *r.Param1Value
				case strings.HasPrefix(r.Param1Name, "c_"):
					tc.C[kpi.NormalizeMode(r.Param1Name[2:])] = *r.Param1Value
				}
			}
		}

		if r.Param1Name != "" && r.Param1Value != nil {
			transferTerm := r.KPI == kpi.TransferConvenience &&
				(strings.HasPrefix(r.Param1Name, "P_") || strings.HasPrefix(r.Param1Name, "c_"))
			if !transferTerm {
				entry.Params[r.Param1Name] = *r.Param1Value
			}
		}
		if r.Param2Name != "" && r.Param2Value != nil {
			entry.Params[r.Param2Name] = *r.Param2Value
		}
		byKPI[r.KPI] = entry
	}

	defaults := composite.DefaultPhysicalAccessWeights()
	for cat, w := range defaults {
		s.access[cat] = w
	}
	for cat, modes := range modeWeights {
		w := composite.AccessWeights{Modes: modes, Alpha: composite.DefaultAlpha}
		s.access[cat] = w
	}
	for cat, alpha := range alphas {
		w, ok := s.access[cat]
		if !ok {
			w = composite.AccessWeights{Modes: map[string]float64{}}
		}
		w.Alpha = alpha
		s.access[cat] = w
	}
	return s
}

func (s *Snapshot) transferFor(cat kpi.Category) composite.TransferCoefficients {
	tc, ok := s.transfer[cat]
	if !ok {
		tc = composite.TransferCoefficients{P: make(map[string]float64), C: make(map[string]float64)}
		s.transfer[cat] = tc
	}
	return tc
}

// Lookup returns the model entry for a key. The returned Params map is
// shared and must not be modified.
func (s *Snapshot) Lookup(cat kpi.Category, ind kpi.Indicator) (Entry, bool) {
	byKPI, ok := s.entries[cat]
	if !ok {
		return Entry{}, false
	}
	e, ok := byKPI[ind]
	return e, ok
}

// AccessWeights returns a copy of the physical-access weights for cat.
func (s *Snapshot) AccessWeights(cat kpi.Category) (composite.AccessWeights, bool) {
	w, ok := s.access[cat]
	if !ok {
		return composite.AccessWeights{}, false
	}
	return w.Clone(), true
}

// TransferCoefficients returns a copy of the (P, c) table for cat and the
// S_max to scale it by.
func (s *Snapshot) TransferCoefficients(cat kpi.Category) (composite.TransferCoefficients, float64) {
	sMax, ok := s.transferMax[cat]
	if !ok {
		sMax = composite.DefaultTransferMax
	}
	tc, ok := s.transfer[cat]
	if !ok {
		return composite.TransferCoefficients{P: map[string]float64{}, C: map[string]float64{}}, sMax
	}
	return tc.Clone(), sMax
}

// Rows returns a copy of the normalised rows the snapshot was built from.
func (s *Snapshot) Rows() []Coefficient {
	out := make([]Coefficient, len(s.rows))
	copy(out, s.rows)
	return out
}

// Keys returns every (rail_type, kpi) present, sorted.
func (s *Snapshot) Keys() []Key {
	var keys []Key
	for cat, byKPI := range s.entries {
		for ind := range byKPI {
			keys = append(keys, Key{RailType: cat, KPI: ind})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RailType != keys[j].RailType {
			return keys[i].RailType < keys[j].RailType
		}
		return keys[i].KPI < keys[j].KPI
	})
	return keys
}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
