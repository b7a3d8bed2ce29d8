package curve

import (
	"fmt"
	"math"
	"strings"
)

// MaxScore is the satisfaction ceiling shared by every model.
const MaxScore = 10.0

// ExpClip bounds exponent magnitudes so math.Exp never overflows.
const ExpClip = 700.0

// Kind identifies one of the satisfaction curve shapes. The string value is the
// model_type code persisted in the coefficient table.
type Kind string

const (
	SaturatingExp Kind = "A"
	Logistic      Kind = "B"
	DecayingExp   Kind = "C"
)

// Kinds lists every known model in code order.
var Kinds = []Kind{SaturatingExp, Logistic, DecayingExp}

func (k Kind) String() string {
	switch k {
	case SaturatingExp:
		return "saturating_exp"
	case Logistic:
		return "logistic"
	case DecayingExp:
		return "decaying_exp"
	default:
		return "unknown"
	}
}

// ParseKind resolves a model code strictly. Calibration uses this: fitting an
// unknown model is a caller error.
func ParseKind(code string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A":
		return SaturatingExp, nil
	case "B":
		return Logistic, nil
	case "C":
		return DecayingExp, nil
	}
	return "", fmt.Errorf("unknown model type %q", code)
}

// ScoringKind resolves a persisted model code for runtime scoring. Only "B"
// selects the logistic curve; everything else, including blank and unknown
// codes, falls back to the saturating curve.
func ScoringKind(code string) Kind {
	if strings.ToUpper(strings.TrimSpace(code)) == string(Logistic) {
		return Logistic
	}
	return SaturatingExp
}

func clipExp(v float64) float64 {
	if v > ExpClip {
		v = ExpClip
	} else if v < -ExpClip {
		v = -ExpClip
	}
	return math.Exp(v)
}

// Clamp bounds v into [0, MaxScore]. NaN collapses to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// SaturatingExpEval is S_max·(1 − e^(−c·(x−x0))) without output clamping.
func SaturatingExpEval(x, c, x0 float64) float64 {
	return MaxScore * (1 - clipExp(-c*(x-x0)))
}

// LogisticEval is S_max / (1 + e^(a·(x−x0))).
func LogisticEval(x, a, x0 float64) float64 {
	return MaxScore / (1 + clipExp(a*(x-x0)))
}

// DecayingExpEval is S_max·e^(−c·x) without output clamping.
func DecayingExpEval(x, c float64) float64 {
	return MaxScore * clipExp(-c*x)
}

// SaturatingExpForward evaluates the saturating curve clamped into [0, MaxScore].
func SaturatingExpForward(x, c, x0 float64) float64 {
	return Clamp(SaturatingExpEval(x, c, x0))
}

// LogisticForward evaluates the logistic curve clamped into [0, MaxScore].
func LogisticForward(x, a, x0 float64) float64 {
	return Clamp(LogisticEval(x, a, x0))
}

// DecayingExpForward evaluates the decaying curve clamped into [0, MaxScore].
func DecayingExpForward(x, c float64) float64 {
	return Clamp(DecayingExpEval(x, c))
}

// SaturatingExpInverse returns the measurement that yields score s.
// s ≥ MaxScore and a non-positive rate have no finite answer and return +Inf.
func SaturatingExpInverse(s, c, x0 float64) float64 {
	if s < 0 {
		return 0
	}
	s = Clamp(s)
	if s >= MaxScore || c <= 0 {
		return math.Inf(1)
	}
	return nonNegative(x0 - math.Log(1-s/MaxScore)/c)
}

// LogisticInverse returns the measurement that yields score s on a decreasing
// logistic curve. s ≤ 0 returns +Inf and s ≥ MaxScore returns 0; the upper
// boundary is intentionally not −Inf.
func LogisticInverse(s, a, x0 float64) float64 {
	s = Clamp(s)
	if s <= 0 {
		return math.Inf(1)
	}
	if s >= MaxScore {
		return 0
	}
	if a <= 0 {
		return math.Inf(1)
	}
	return nonNegative(x0 + math.Log(MaxScore/s-1)/a)
}

// DecayingExpInverse returns the measurement that yields score s on the
// decaying curve.
func DecayingExpInverse(s, c float64) float64 {
	s = Clamp(s)
	if s <= 0 || c <= 0 {
		return math.Inf(1)
	}
	if s >= MaxScore {
		return 0
	}
	return nonNegative(-math.Log(s/MaxScore) / c)
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
