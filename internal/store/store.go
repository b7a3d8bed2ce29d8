package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// DefaultModelType is assumed for rows persisted before model_type existed.
const DefaultModelType = "A"

// Coefficient is one row of the coefficient table. Composite indicators span
// several rows under the same key (one per w_<mode>, P_<mode>, c_<mode>, ...).
type Coefficient struct {
	RailType    kpi.Category  `json:"rail_type"`
	KPI         kpi.Indicator `json:"kpi"`
	ModelType   string        `json:"model_type"`
	Param1Name  string        `json:"param1_name"`
	Param1Value *float64      `json:"param1_value,omitempty"`
	Param2Name  string        `json:"param2_name,omitempty"`
	Param2Value *float64      `json:"param2_value,omitempty"`
	RSquared    *float64      `json:"r_squared,omitempty"`
}

// Key identifies the rows replaced together.
type Key struct {
	RailType kpi.Category  `json:"rail_type"`
	KPI      kpi.Indicator `json:"kpi"`
}

func (k Key) String() string {
	return string(k.RailType) + "/" + string(k.KPI)
}

// Key returns the row's (rail_type, kpi) pair.
func (c Coefficient) Key() Key {
	return Key{RailType: c.RailType, KPI: c.KPI}
}

// Normalize trims names, canonicalises the key and fills a blank model type.
func (c Coefficient) Normalize() Coefficient {
	c.RailType = kpi.NormalizeCategory(string(c.RailType))
	c.KPI = kpi.NormalizeIndicator(string(c.KPI))
	c.ModelType = strings.ToUpper(strings.TrimSpace(c.ModelType))
	if c.ModelType == "" {
		c.ModelType = DefaultModelType
	}
	c.Param1Name = strings.TrimSpace(c.Param1Name)
	c.Param2Name = strings.TrimSpace(c.Param2Name)
	return c
}

// Float returns a pointer to v, for optional row values.
func Float(v float64) *float64 {
	return &v
}

// KeysOf returns the distinct keys of rows in first-seen order.
func KeysOf(rows []Coefficient) []Key {
	seen := make(map[Key]bool)
	var keys []Key
	for _, r := range rows {
		k := r.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// CalibrationRun is the audit record written for every fit attempt.
type CalibrationRun struct {
	ID          uuid.UUID          `json:"id"`
	RailType    kpi.Category       `json:"rail_type"`
	KPI         kpi.Indicator      `json:"kpi"`
	ModelType   string             `json:"model_type"`
	Method      string             `json:"method"`
	Outcome     Outcome            `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
	Params      map[string]float64 `json:"params,omitempty"`
	RSquared    *float64           `json:"r_squared,omitempty"`
	SSE         *float64           `json:"sse,omitempty"`
	SST         *float64           `json:"sst,omitempty"`
	N           int                `json:"n"`
	Iterations  int                `json:"iterations"`
	ScaleFactor float64            `json:"scale_factor"`
	DryRun      bool               `json:"dry_run"`
	CreatedAt   time.Time          `json:"created_at"`
}

type CalibrationFilter struct {
	RailType kpi.Category
	KPI      kpi.Indicator
	Outcome  *Outcome
	Limit    int
	Offset   int
}

// Store persists coefficient rows and the calibration audit trail.
type Store interface {
	// ListCoefficients returns every row in insertion order.
	ListCoefficients(ctx context.Context) ([]Coefficient, error)
	// ReplaceCoefficients deletes every row under keys and inserts rows, in
	// one transaction.
	ReplaceCoefficients(ctx context.Context, keys []Key, rows []Coefficient) error
	// ResetCoefficients replaces the whole table.
	ResetCoefficients(ctx context.Context, rows []Coefficient) error

	RecordCalibration(ctx context.Context, run *CalibrationRun) error
	ListCalibrations(ctx context.Context, filter CalibrationFilter) ([]*CalibrationRun, error)

	Close() error
}

func filterLimit(f CalibrationFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}
