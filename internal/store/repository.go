package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrInvalidRow is returned when a row lacks its rail type or KPI.
var ErrInvalidRow = errors.New("coefficient row requires rail_type and kpi")

// Repository serves the current Snapshot to readers and serialises writers.
// Every write persists the complete replacement first, then rebuilds the
// snapshot from the store and swaps it in, so readers never see partial state.
type Repository struct {
	store   Store
	logger  *slog.Logger
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewRepository(s Store, logger *slog.Logger) *Repository {
	r := &Repository{store: s, logger: logger}
	r.current.Store(BuildSnapshot(nil))
	return r
}

// Store returns the backing store, for audit records.
func (r *Repository) Store() Store {
	return r.store
}

// Snapshot returns the current snapshot. It is never nil.
func (r *Repository) Snapshot() *Snapshot {
	return r.current.Load()
}

// Load rebuilds the snapshot from the store.
func (r *Repository) Load(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Repository) reloadLocked(ctx context.Context) (*Snapshot, error) {
	rows, err := r.store.ListCoefficients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coefficients: %w", err)
	}
	snap := BuildSnapshot(rows)
	snap.version = r.version.Add(1)
	r.current.Store(snap)
	r.logger.Info("coefficients loaded", "rows", len(rows), "keys", len(snap.Keys()), "version", snap.version)
	return snap, nil
}

// Replace overwrites every (rail_type, kpi) present in rows. Keys not in rows
// are left untouched.
func (r *Repository) Replace(ctx context.Context, rows []Coefficient) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaceLocked(ctx, rows)
}

// Update builds replacement rows from the current snapshot and applies them
// as Replace does. fn runs under the write lock, so no other write can land
// between reading the snapshot and replacing the keys.
func (r *Repository) Update(ctx context.Context, fn func(*Snapshot) ([]Coefficient, error)) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := fn(r.Snapshot())
	if err != nil {
		return nil, err
	}
	return r.replaceLocked(ctx, rows)
}

func (r *Repository) replaceLocked(ctx context.Context, rows []Coefficient) (*Snapshot, error) {
	normalized, err := validateRows(rows)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return r.Snapshot(), nil
	}
	keys := KeysOf(normalized)

	if err := r.store.ReplaceCoefficients(ctx, keys, normalized); err != nil {
		return nil, fmt.Errorf("replace coefficients: %w", err)
	}
	r.logger.Info("coefficients replaced", "keys", len(keys), "rows", len(normalized))
	return r.reloadLocked(ctx)
}

// Restore replaces the whole table with rows, typically the shipped defaults.
func (r *Repository) Restore(ctx context.Context, rows []Coefficient) (*Snapshot, error) {
	normalized, err := validateRows(rows)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.ResetCoefficients(ctx, normalized); err != nil {
		return nil, fmt.Errorf("reset coefficients: %w", err)
	}
	r.logger.Info("coefficients restored", "rows", len(normalized))
	return r.reloadLocked(ctx)
}

func validateRows(rows []Coefficient) ([]Coefficient, error) {
	out := make([]Coefficient, 0, len(rows))
	for i, raw := range rows {
		c := raw.Normalize()
		if c.RailType == "" || c.KPI == "" {
			return nil, fmt.Errorf("row %d: %w", i+1, ErrInvalidRow)
		}
		out = append(out, c)
	}
	return out, nil
}
