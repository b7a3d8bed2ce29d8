package scoring

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

// ConfigurationError reports that no coefficients exist for a key.
type ConfigurationError struct {
	RailType kpi.Category
	KPI      kpi.Indicator
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no coefficients for %s/%s", e.RailType, e.KPI)
}

// ParameterError reports that a coefficient row exists but lacks a parameter
// its model needs.
type ParameterError struct {
	RailType kpi.Category
	KPI      kpi.Indicator
	Model    curve.Kind
	Param    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s/%s: model %s (%s) requires parameter %q",
		e.RailType, e.KPI, e.Model, e.Model.String(), e.Param)
}

// ErrInvalidRequest marks inputs that cannot be scored regardless of the
// loaded coefficients.
var ErrInvalidRequest = errors.New("invalid scoring request")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
