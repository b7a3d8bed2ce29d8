package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Used for tests and for running
// the service from a TSV file without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Coefficient
	runs []*CalibrationRun
}

func NewMemoryStore(rows []Coefficient) *MemoryStore {
	s := &MemoryStore{}
	for _, r := range rows {
		s.rows = append(s.rows, r.Normalize())
	}
	return s
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ListCoefficients(_ context.Context) ([]Coefficient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Coefficient, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *MemoryStore) ReplaceCoefficients(_ context.Context, keys []Key, rows []Coefficient) error {
	drop := make(map[Key]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Coefficient, 0, len(s.rows)+len(rows))
	for _, r := range s.rows {
		if !drop[r.Key()] {
			kept = append(kept, r)
		}
	}
	for _, r := range rows {
		kept = append(kept, r.Normalize())
	}
	s.rows = kept
	return nil
}

func (s *MemoryStore) ResetCoefficients(_ context.Context, rows []Coefficient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make([]Coefficient, 0, len(rows))
	for _, r := range rows {
		s.rows = append(s.rows, r.Normalize())
	}
	return nil
}

func (s *MemoryStore) RecordCalibration(_ context.Context, run *CalibrationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cp := *run
	s.mu.Lock()
	s.runs = append(s.runs, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListCalibrations(_ context.Context, filter CalibrationFilter) ([]*CalibrationRun, error) {
	s.mu.RLock()
	var matched []*CalibrationRun
	for _, r := range s.runs {
		if filter.RailType != "" && r.RailType != filter.RailType {
			continue
		}
		if filter.KPI != "" && r.KPI != filter.KPI {
			continue
		}
		if filter.Outcome != nil && r.Outcome != *filter.Outcome {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	// Newest first, matching the SQL backends.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit := filterLimit(filter); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
