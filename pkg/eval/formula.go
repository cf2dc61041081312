package eval

import (
	"fmt"
	"sync"

	"github.com/cascade-run/cascade/pkg/errors"
)

// Formula normalizes a raw criterion score into [0, 1].
type Formula interface {
	ID() string
	Normalize(raw float64) float64
}

// Built-in formula ids.
const (
	FormulaBinary        = "binary"
	FormulaLikert5       = "likert_1_5"
	FormulaLikertPM2     = "likert_pm2"
	FormulaLowerIsBetter = "lower_is_better"
	FormulaZeroOne       = "zero_one"
	FormulaPairwise      = "pairwise"
)

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// binaryFormula maps any positive raw score to 1 and everything else to 0.
type binaryFormula struct{}

func (binaryFormula) ID() string { return FormulaBinary }
func (binaryFormula) Normalize(raw float64) float64 {
	if raw > 0 {
		return 1
	}
	return 0
}

// likert5Formula maps a 1..5 Likert rating onto [0, 1].
type likert5Formula struct{}

func (likert5Formula) ID() string { return FormulaLikert5 }
func (likert5Formula) Normalize(raw float64) float64 {
	return clamp01((raw - 1) / 4)
}

// likertPM2Formula maps a -2..2 Likert rating onto [0, 1].
type likertPM2Formula struct{}

func (likertPM2Formula) ID() string { return FormulaLikertPM2 }
func (likertPM2Formula) Normalize(raw float64) float64 {
	return clamp01((raw + 2) / 4)
}

// LowerIsBetter maps a raw measurement where smaller is better onto [0, 1]
// using two anchor points: values at or below Good score 1, values at or
// above Bad score 0, with linear interpolation between.
type LowerIsBetter struct {
	Good float64
	Bad  float64
}

func (LowerIsBetter) ID() string { return FormulaLowerIsBetter }

func (f LowerIsBetter) Normalize(raw float64) float64 {
	if f.Bad <= f.Good {
		if raw <= f.Good {
			return 1
		}
		return 0
	}
	return clamp01((f.Bad - raw) / (f.Bad - f.Good))
}

// zeroOneFormula clamps an already-normalized score into [0, 1].
type zeroOneFormula struct{}

func (zeroOneFormula) ID() string { return FormulaZeroOne }
func (zeroOneFormula) Normalize(raw float64) float64 {
	return clamp01(raw)
}

// pairwiseFormula maps a win margin in [-1, 1] onto [0, 1], with 0.5 for a
// tie.
type pairwiseFormula struct{}

func (pairwiseFormula) ID() string { return FormulaPairwise }
func (pairwiseFormula) Normalize(raw float64) float64 {
	return clamp01((raw + 1) / 2)
}

// FormulaRegistry resolves formula ids to implementations.
type FormulaRegistry struct {
	mu       sync.RWMutex
	formulas map[string]Formula
}

// NewFormulaRegistry builds a registry seeded with the built-in formulas.
// The lower-is-better entry uses neutral bounds; callers with an SLO
// register their own via Register.
func NewFormulaRegistry() *FormulaRegistry {
	r := &FormulaRegistry{formulas: map[string]Formula{}}
	for _, f := range []Formula{
		binaryFormula{},
		likert5Formula{},
		likertPM2Formula{},
		LowerIsBetter{Good: 0, Bad: 1},
		zeroOneFormula{},
		pairwiseFormula{},
	} {
		r.formulas[f.ID()] = f
	}
	return r
}

// Register adds or replaces a formula.
func (r *FormulaRegistry) Register(f Formula) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formulas[f.ID()] = f
}

// Get returns the formula for id. An empty id resolves to the zero-one
// clamp.
func (r *FormulaRegistry) Get(id string) (Formula, error) {
	if id == "" {
		id = FormulaZeroOne
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formulas[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "formula", ID: id}
	}
	return f, nil
}

// Shrink pulls a normalized score toward a prior when the sample count is
// small: (n*x + k*p) / (n + k). With n much larger than k the observed score
// dominates; with n = 0 the prior is returned unchanged.
func Shrink(x float64, n int, prior, k float64) float64 {
	if k <= 0 {
		return x
	}
	if n < 0 {
		n = 0
	}
	return (float64(n)*x + k*prior) / (float64(n) + k)
}

// weightedMean folds score/weight pairs, renormalizing over the weights that
// are actually present. It returns 0 when no weight is positive.
func weightedMean(scores, weights []float64) float64 {
	if len(scores) != len(weights) {
		panic(fmt.Sprintf("eval: weightedMean got %d scores and %d weights", len(scores), len(weights)))
	}
	var sum, total float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		sum += scores[i] * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
