package fitting

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Levenberg–Marquardt tuning.
const (
	lmInitialDamping = 1e-3
	lmMinDamping     = 1e-12
	lmMaxDamping     = 1e16
	lmGradTol        = 1e-10
	lmCostTol        = 1e-12
	lmStepTol        = 1e-10
	lmDiagFloor      = 1e-12
)

// lmSolver is a bounded Levenberg–Marquardt: trial steps are projected back
// into the box, and parameters sitting on a bound whose descent direction
// points outward are frozen for that iteration.
type lmSolver struct {
	maxIter int
}

func (s lmSolver) solve(pr *problem, xs, ys, start []float64) (solution, error) {
	n, k := len(xs), len(start)
	params := append([]float64(nil), start...)
	pr.project(params)

	res := make([]float64, n)
	cost := pr.residuals(xs, ys, params, res)
	if !isFinite(cost) {
		return solution{}, errNumerical
	}

	jac := mat.NewDense(n, k, nil)
	trial := make([]float64, k)
	trialRes := make([]float64, n)
	free := make([]bool, k)
	lambda := lmInitialDamping

	done := func(iter int) (solution, error) {
		return solution{params: params, sse: cost, iterations: iter}, nil
	}

	iter := 0
	for iter < s.maxIter {
		pr.jacobian(xs, params, jac)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(n, res))

		var gmax float64
		for i := 0; i < k; i++ {
			g := grad.AtVec(i)
			atLower := params[i] <= pr.lower[i] && g < 0
			atUpper := params[i] >= pr.upper[i] && g > 0
			free[i] = !atLower && !atUpper
			if free[i] {
				gmax = math.Max(gmax, math.Abs(g))
			}
		}
		if gmax <= lmGradTol*(1+cost) {
			return done(iter)
		}

		for {
			iter++
			if iter > s.maxIter {
				return solution{}, errNotConverged
			}

			a := mat.NewSymDense(k, nil)
			rhs := mat.NewVecDense(k, nil)
			for i := 0; i < k; i++ {
				if !free[i] {
					a.SetSym(i, i, 1)
					continue
				}
				for j := i + 1; j < k; j++ {
					if free[j] {
						a.SetSym(i, j, jtj.At(i, j))
					}
				}
				d := math.Max(jtj.At(i, i), lmDiagFloor)
				a.SetSym(i, i, d*(1+lambda))
				rhs.SetVec(i, grad.AtVec(i))
			}

			var chol mat.Cholesky
			var step mat.VecDense
			if !chol.Factorize(a) || chol.SolveVecTo(&step, rhs) != nil {
				lambda *= 10
				if lambda > lmMaxDamping {
					return done(iter)
				}
				continue
			}

			for i := range trial {
				trial[i] = params[i] + step.AtVec(i)
			}
			pr.project(trial)
			trialCost := pr.residuals(xs, ys, trial, trialRes)

			if isFinite(trialCost) && trialCost < cost {
				decrease := cost - trialCost
				moved := distance(trial, params)
				copy(params, trial)
				copy(res, trialRes)
				cost = trialCost
				lambda = math.Max(lambda/10, lmMinDamping)
				if decrease <= lmCostTol*cost || moved <= lmStepTol*(norm(params)+lmStepTol) {
					return done(iter)
				}
				break
			}

			lambda *= 10
			if lambda > lmMaxDamping {
				// No downhill step exists at any damping: a local minimum.
				return done(iter)
			}
		}
	}
	return solution{}, errNotConverged
}

// jacobian fills jac with ∂f(x_i)/∂p_j by central differences, clipped to
// the bounds.
func (pr *problem) jacobian(xs, params []float64, jac *mat.Dense) {
	k := len(params)
	plus := make([]float64, k)
	minus := make([]float64, k)
	for j := 0; j < k; j++ {
		copy(plus, params)
		copy(minus, params)
		h := 1e-6 * math.Max(1, math.Abs(params[j]))
		plus[j] += h
		minus[j] -= h
		pr.project(plus)
		pr.project(minus)
		width := plus[j] - minus[j]
		for i, x := range xs {
			if width == 0 {
				jac.Set(i, j, 0)
				continue
			}
			jac.Set(i, j, (pr.eval(x, plus)-pr.eval(x, minus))/width)
		}
	}
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
