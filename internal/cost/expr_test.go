package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEvalArithmetic(t *testing.T) {
	e, err := Parse("in0 * 2 + 1")
	require.NoError(t, err)

	v, err := e.Eval(map[string]float64{"in0": 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestParseAndEvalVariable(t *testing.T) {
	e, err := Parse("${c0} * in0 + ${c1}")
	require.NoError(t, err)

	v, err := e.Eval(map[string]float64{"in0": 10}, map[string]float64{"c0": 2, "c1": 5})
	require.NoError(t, err)
	assert.Equal(t, 25.0, v)
}

func TestVariablesReturnsEachDistinctNameOnce(t *testing.T) {
	e, err := Parse("${c0} * in0 + ${c0} + ${c1}")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c0", "c1"}, e.Variables())
}

func TestEvalCallsIntrinsics(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"max(1, 2)", 2},
		{"min(1, 2)", 1},
		{"round(1.6)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			v, err := e.Eval(nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseRejectsUnknownCall(t *testing.T) {
	_, err := Parse("bogus(1)")
	assert.Error(t, err)
}

func TestParsePrecedence(t *testing.T) {
	e, err := Parse("2 + 3 * 4")
	require.NoError(t, err)
	v, err := e.Eval(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 14.0, v)
}

func TestEvalUndefinedSymbolErrors(t *testing.T) {
	e, err := Parse("in5")
	require.NoError(t, err)
	_, err = e.Eval(map[string]float64{"in0": 1}, nil)
	assert.Error(t, err)
}

func TestStringRoundTripsCanonicalForm(t *testing.T) {
	e, err := Parse("${c0} * in0")
	require.NoError(t, err)
	assert.Equal(t, "(${c0} * in0)", e.String())
}
