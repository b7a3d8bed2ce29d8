package fitting

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// nelderMeadSolver minimises the SSE with gonum's simplex method. Bounds are
// enforced by projecting every evaluated point.
type nelderMeadSolver struct {
	maxIter int
}

func (s nelderMeadSolver) solve(pr *problem, xs, ys, start []float64) (solution, error) {
	work := make([]float64, len(start))
	res := make([]float64, len(xs))

	problem := optimize.Problem{
		Func: func(v []float64) float64 {
			copy(work, v)
			pr.project(work)
			sse := pr.residuals(xs, ys, work, res)
			if !isFinite(sse) {
				return math.MaxFloat64
			}
			return sse
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 100,
		},
	}

	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return solution{}, fmt.Errorf("%w: %v", errNumerical, err)
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return solution{}, errNotConverged
	}

	params := append([]float64(nil), result.X...)
	pr.project(params)
	sse := pr.residuals(xs, ys, params, res)
	if !isFinite(sse) {
		return solution{}, errNumerical
	}
	return solution{params: params, sse: sse, iterations: result.Stats.MajorIterations}, nil
}
