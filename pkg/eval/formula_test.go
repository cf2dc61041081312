package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

func TestFormulaNormalization(t *testing.T) {
	r := NewFormulaRegistry()

	tests := []struct {
		formula string
		raw     float64
		want    float64
	}{
		{FormulaBinary, 0, 0},
		{FormulaBinary, 0.001, 1},
		{FormulaBinary, -3, 0},
		{FormulaLikert5, 1, 0},
		{FormulaLikert5, 3, 0.5},
		{FormulaLikert5, 5, 1},
		{FormulaLikert5, 9, 1},
		{FormulaLikertPM2, -2, 0},
		{FormulaLikertPM2, 0, 0.5},
		{FormulaLikertPM2, 2, 1},
		{FormulaZeroOne, -0.5, 0},
		{FormulaZeroOne, 0.42, 0.42},
		{FormulaZeroOne, 1.5, 1},
		{FormulaPairwise, -1, 0},
		{FormulaPairwise, 0, 0.5},
		{FormulaPairwise, 1, 1},
	}
	for _, tt := range tests {
		f, err := r.Get(tt.formula)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, f.Normalize(tt.raw), 1e-9, "%s(%v)", tt.formula, tt.raw)
	}
}

func TestFormulaRegistryDefaults(t *testing.T) {
	r := NewFormulaRegistry()

	f, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, FormulaZeroOne, f.ID())

	_, err = r.Get("made_up")
	var nf *cerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestLowerIsBetterBounds(t *testing.T) {
	f := LowerIsBetter{Good: 30, Bad: 300}
	assert.InDelta(t, 1.0, f.Normalize(10), 1e-9)
	assert.InDelta(t, 1.0, f.Normalize(30), 1e-9)
	assert.InDelta(t, 0.5, f.Normalize(165), 1e-9)
	assert.InDelta(t, 0.0, f.Normalize(300), 1e-9)
	assert.InDelta(t, 0.0, f.Normalize(1000), 1e-9)
}

func TestShrink(t *testing.T) {
	// With no observations the prior stands.
	assert.InDelta(t, 0.5, Shrink(1.0, 0, 0.5, 10), 1e-9)
	// (5*1.0 + 10*0.5) / 15
	assert.InDelta(t, 2.0/3, Shrink(1.0, 5, 0.5, 10), 1e-9)
	// Large n overwhelms the prior.
	assert.InDelta(t, 1.0, Shrink(1.0, 100000, 0.5, 10), 1e-3)
	// k = 0 disables shrinkage.
	assert.InDelta(t, 1.0, Shrink(1.0, 0, 0.5, 0), 1e-9)
}

func TestWeightedMeanRenormalizes(t *testing.T) {
	// Zero-weight entries drop out and the rest renormalize.
	got := weightedMean([]float64{1.0, 0.2, 0.0}, []float64{0.6, 0, 0.15})
	assert.InDelta(t, (1.0*0.6)/(0.6+0.15), got, 1e-9)

	assert.Zero(t, weightedMean(nil, nil))
	assert.Zero(t, weightedMean([]float64{0.9}, []float64{0}))
}
