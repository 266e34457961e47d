package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactIsDegenerateAtFullConfidence(t *testing.T) {
	c := Exact(42)
	assert.Equal(t, uint64(42), c.Lower)
	assert.Equal(t, uint64(42), c.Upper)
	assert.Equal(t, 1.0, c.P)
}

func TestUnknownNeverClaimsConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Unknown.P)
	assert.True(t, Unknown.Lower <= Unknown.Upper)
}

func TestCardinalityEqual(t *testing.T) {
	a := Cardinality{Lower: 1, Upper: 2, P: 0.5}
	b := Cardinality{Lower: 1, Upper: 2, P: 0.5}
	c := Cardinality{Lower: 1, Upper: 3, P: 0.5}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAddTakesMinProbability(t *testing.T) {
	a := Cardinality{Lower: 1, Upper: 2, P: 0.9}
	b := Cardinality{Lower: 3, Upper: 4, P: 0.4}

	sum := Add(a, b)

	assert.Equal(t, uint64(4), sum.Lower)
	assert.Equal(t, uint64(6), sum.Upper)
	assert.Equal(t, 0.4, sum.P)
}

func TestMulMultipliesBounds(t *testing.T) {
	a := Cardinality{Lower: 2, Upper: 3, P: 1.0}
	b := Cardinality{Lower: 4, Upper: 5, P: 1.0}

	product := Mul(a, b)

	assert.Equal(t, uint64(8), product.Lower)
	assert.Equal(t, uint64(15), product.Upper)
}

func TestScaleClampsNegativeFactorToZero(t *testing.T) {
	a := Cardinality{Lower: 10, Upper: 20, P: 1.0}

	scaled := Scale(a, -2)

	assert.Equal(t, uint64(0), scaled.Lower)
	assert.Equal(t, uint64(0), scaled.Upper)
	assert.Equal(t, 1.0, scaled.P) // scaling narrows, doesn't compose, so P is unchanged
}

func TestScaleHalvesBounds(t *testing.T) {
	a := Cardinality{Lower: 100, Upper: 200, P: 1.0}

	scaled := Scale(a, 0.5)

	assert.Equal(t, uint64(50), scaled.Lower)
	assert.Equal(t, uint64(100), scaled.Upper)
}

func TestMid(t *testing.T) {
	c := Cardinality{Lower: 10, Upper: 20, P: 1.0}
	assert.InDelta(t, 15.0, c.Mid(), 1e-9)
}

func TestString(t *testing.T) {
	c := Cardinality{Lower: 1, Upper: 2, P: 0.75}
	assert.Equal(t, "[1,2]@0.75", c.String())
}
