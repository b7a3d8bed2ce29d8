// Package fitting calibrates satisfaction curves against survey samples.
package fitting

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Method selects the solver.
type Method string

const (
	MethodLM         Method = "lm"
	MethodNelderMead Method = "nelder-mead"
)

func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodLM, "":
		return MethodLM, nil
	case MethodNelderMead:
		return MethodNelderMead, nil
	}
	return "", fmt.Errorf("unknown fitting method %q", s)
}

// Defaults.
const (
	DefaultMaxIterations = 10000
	DefaultMinPoints     = 2
	DefaultScaleFactor   = 10000.0
)

// Options configures a Fitter. Zero fields take the defaults.
type Options struct {
	Method        Method
	MaxIterations int
	MinPoints     int
	// AnchorOrigin fits the saturating curve with X0 pinned at 0.
	AnchorOrigin bool
	// ScaledCategories lists the categories whose economic-access
	// measurements are divided by ScaleFactor before fitting.
	ScaledCategories []kpi.Category
	ScaleFactor      float64
}

func DefaultOptions() Options {
	return Options{
		Method:           MethodLM,
		MaxIterations:    DefaultMaxIterations,
		MinPoints:        DefaultMinPoints,
		ScaledCategories: []kpi.Category{kpi.HighSpeed, kpi.Conventional},
		ScaleFactor:      DefaultScaleFactor,
	}
}

// FitContext names what the samples measure.
type FitContext struct {
	Category  kpi.Category  `json:"rail_type"`
	Indicator kpi.Indicator `json:"kpi"`
}

// Param is one named fitted parameter.
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FitResult is a successful calibration.
type FitResult struct {
	Category    kpi.Category  `json:"rail_type"`
	Indicator   kpi.Indicator `json:"kpi"`
	Kind        curve.Kind    `json:"model_type"`
	Params      []Param       `json:"params"`
	RSquared    float64       `json:"r_squared"`
	SSE         float64       `json:"sse"`
	SST         float64       `json:"sst"`
	N           int           `json:"n"`
	Iterations  int           `json:"iterations"`
	ScaleFactor float64       `json:"scale_factor"`
	Method      Method        `json:"method"`
}

// Param returns the value of the named parameter.
func (r *FitResult) Param(name string) (float64, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// ParamMap returns the parameters keyed by name.
func (r *FitResult) ParamMap() map[string]float64 {
	out := make(map[string]float64, len(r.Params))
	for _, p := range r.Params {
		out[p.Name] = p.Value
	}
	return out
}

// Coefficient converts the result into a coefficient table row. The first
// two parameters fill param1 and param2.
func (r *FitResult) Coefficient() store.Coefficient {
	c := store.Coefficient{
		RailType:  r.Category,
		KPI:       r.Indicator,
		ModelType: string(r.Kind),
		RSquared:  store.Float(r.RSquared),
	}
	if len(r.Params) > 0 {
		c.Param1Name = r.Params[0].Name
		c.Param1Value = store.Float(r.Params[0].Value)
	}
	if len(r.Params) > 1 {
		c.Param2Name = r.Params[1].Name
		c.Param2Value = store.Float(r.Params[1].Value)
	}
	return c
}

// Summary renders the result as the plain-text report analysts archive next
// to the survey file.
func (r *FitResult) Summary(source string) string {
	var b strings.Builder
	if source != "" {
		fmt.Fprintf(&b, "input: %s\n", source)
	}
	fmt.Fprintf(&b, "indicator: %s (%s)\n", r.Indicator, r.Category)
	fmt.Fprintf(&b, "model: %s (%s)\n", r.Kind, r.Kind.String())
	parts := make([]string, len(r.Params))
	for i, p := range r.Params {
		parts[i] = fmt.Sprintf("%s=%.6f", p.Name, p.Value)
	}
	fmt.Fprintf(&b, "params: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "sse: %.4f\n", r.SSE)
	fmt.Fprintf(&b, "r_squared: %.4f\n", r.RSquared)
	fmt.Fprintf(&b, "n: %d\n", r.N)
	fmt.Fprintf(&b, "scale: 1/%g\n", r.ScaleFactor)
	return b.String()
}

// Reason classifies a FitFailure.
type Reason string

const (
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonInvalidData      Reason = "invalid_data"
	ReasonUnsupported      Reason = "unsupported_indicator"
	ReasonUnknownModel     Reason = "unknown_model"
	ReasonNotConverged     Reason = "not_converged"
	ReasonNumerical        Reason = "numerical_error"
)

// FitFailure is the only error Fit returns.
type FitFailure struct {
	Reason Reason
	Detail string
	Err    error
}

func (f *FitFailure) Error() string {
	msg := "fit failed: " + string(f.Reason)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *FitFailure) Unwrap() error { return f.Err }

func failure(reason Reason, format string, args ...any) *FitFailure {
	return &FitFailure{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

var (
	errNotConverged = errors.New("iteration budget exhausted")
	errNumerical    = errors.New("non-finite objective")
)

// Fitter runs calibrations. It holds no mutable state and is safe for
// concurrent use.
type Fitter struct {
	opts Options
}

func NewFitter(opts Options) *Fitter {
	d := DefaultOptions()
	if opts.Method == "" {
		opts.Method = d.Method
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = d.MaxIterations
	}
	if opts.MinPoints < DefaultMinPoints {
		opts.MinPoints = DefaultMinPoints
	}
	if opts.ScaleFactor <= 0 {
		opts.ScaleFactor = d.ScaleFactor
	}
	return &Fitter{opts: opts}
}

func (f *Fitter) Options() Options { return f.opts }

// ScaleFor returns the divisor applied to measurements for fc.
func (f *Fitter) ScaleFor(fc FitContext) float64 {
	if fc.Indicator != kpi.EconomicAccess {
		return 1
	}
	for _, c := range f.opts.ScaledCategories {
		if c == fc.Category {
			return f.opts.ScaleFactor
		}
	}
	return 1
}

// Fit calibrates kind against samples. Every error is a *FitFailure.
func (f *Fitter) Fit(samples SampleSet, kind curve.Kind, fc FitContext) (*FitResult, error) {
	if _, err := curve.ParseKind(string(kind)); err != nil {
		return nil, &FitFailure{Reason: ReasonUnknownModel, Err: err}
	}
	if fc.Indicator == kpi.TransferConvenience {
		return nil, failure(ReasonUnsupported, "%s is computed directly and cannot be curve-fitted", fc.Indicator)
	}
	if len(samples) < f.opts.MinPoints {
		return nil, failure(ReasonInsufficientData, "need at least %d points, got %d", f.opts.MinPoints, len(samples))
	}
	if !samples.Valid() {
		return nil, failure(ReasonInvalidData, "samples need finite values and scores within [0, %g]", curve.MaxScore)
	}

	scale := f.ScaleFor(fc)
	if scale != 1 {
		samples = samples.Scaled(scale)
	}
	xs, ys := samples.Xs(), samples.Ss()

	pr := newProblem(kind, xs, fc.Indicator, f.opts.AnchorOrigin)
	solver := f.solver()

	var (
		best     solution
		found    bool
		firstErr error
	)
	for _, start := range pr.starts {
		sol, err := solver.solve(pr, xs, ys, start)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !found || sol.sse < best.sse {
			best, found = sol, true
		}
	}
	if !found {
		reason := ReasonNumerical
		if errors.Is(firstErr, errNotConverged) {
			reason = ReasonNotConverged
		}
		return nil, &FitFailure{Reason: reason, Detail: fmt.Sprintf("%s %s", fc.Category, fc.Indicator), Err: firstErr}
	}
	for _, v := range best.params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, failure(ReasonNumerical, "non-finite parameter")
		}
	}

	sse := pr.residuals(xs, ys, best.params, make([]float64, len(xs)))
	mean := stat.Mean(ys, nil)
	var sst float64
	for _, y := range ys {
		sst += (y - mean) * (y - mean)
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	return &FitResult{
		Category:    fc.Category,
		Indicator:   fc.Indicator,
		Kind:        kind,
		Params:      pr.output(best.params),
		RSquared:    r2,
		SSE:         sse,
		SST:         sst,
		N:           len(xs),
		Iterations:  best.iterations,
		ScaleFactor: scale,
		Method:      f.opts.Method,
	}, nil
}

type solver interface {
	solve(pr *problem, xs, ys, start []float64) (solution, error)
}

type solution struct {
	params     []float64
	sse        float64
	iterations int
}

func (f *Fitter) solver() solver {
	if f.opts.Method == MethodNelderMead {
		return nelderMeadSolver{maxIter: f.opts.MaxIterations}
	}
	return lmSolver{maxIter: f.opts.MaxIterations}
}

// problem is a curve with its free parameters, their bounds and the start
// points to try.
type problem struct {
	names  []string
	lower  []float64
	upper  []float64
	starts [][]float64
	eval   func(x float64, p []float64) float64
	// fixed parameters are reported after the free ones.
	fixed []Param
}

func x0Name(ind kpi.Indicator) string {
	if ind == "" {
		return "X0"
	}
	return string(ind) + "_0"
}

func newProblem(kind curve.Kind, xs []float64, ind kpi.Indicator, anchor bool) *problem {
	inf := math.Inf(1)
	switch kind {
	case curve.Logistic:
		x0 := stat.Mean(xs, nil)
		return &problem{
			names:  []string{"a"},
			lower:  []float64{0},
			upper:  []float64{inf},
			starts: [][]float64{{0.1}, {0.5}},
			eval: func(x float64, p []float64) float64 {
				return curve.LogisticEval(x, p[0], x0)
			},
			fixed: []Param{{Name: x0Name(ind), Value: x0}},
		}
	case curve.DecayingExp:
		return &problem{
			names:  []string{"c"},
			lower:  []float64{0},
			upper:  []float64{inf},
			starts: [][]float64{{0.01}, {0.001}},
			eval: func(x float64, p []float64) float64 {
				return curve.DecayingExpEval(x, p[0])
			},
		}
	}

	if anchor {
		return &problem{
			names:  []string{"c"},
			lower:  []float64{0},
			upper:  []float64{inf},
			starts: [][]float64{{0.01}, {0.1}},
			eval: func(x float64, p []float64) float64 {
				return curve.SaturatingExpEval(x, p[0], 0)
			},
		}
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	return &problem{
		names:  []string{"c", x0Name(ind)},
		lower:  []float64{0, lo},
		upper:  []float64{inf, hi},
		starts: [][]float64{{0.1, median(xs)}, {0.1, lo}},
		eval: func(x float64, p []float64) float64 {
			return curve.SaturatingExpEval(x, p[0], p[1])
		},
	}
}

func (p *problem) project(v []float64) {
	for i := range v {
		if v[i] < p.lower[i] {
			v[i] = p.lower[i]
		} else if v[i] > p.upper[i] {
			v[i] = p.upper[i]
		}
	}
}

// residuals fills out with y − f(x) and returns the sum of squares.
func (p *problem) residuals(xs, ys, params, out []float64) float64 {
	var sse float64
	for i, x := range xs {
		r := ys[i] - p.eval(x, params)
		out[i] = r
		sse += r * r
	}
	return sse
}

func (p *problem) output(params []float64) []Param {
	out := make([]Param, 0, len(params)+len(p.fixed))
	for i, v := range params {
		out = append(out, Param{Name: p.names[i], Value: v})
	}
	return append(out, p.fixed...)
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
