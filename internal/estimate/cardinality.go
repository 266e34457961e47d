// Package estimate holds the probabilistic interval types shared by the
// cardinality engine (C3) and the cost model (C4): CardinalityEstimate,
// the generic ProbabilisticDoubleInterval used for both time and cost,
// and LoadProfile. Keeping them dependency-free lets every other
// component (plan graph, channel graph, enumerator, driver, learner)
// import this package without risking an import cycle.
package estimate

import "fmt"

// Cardinality is a triple (lower, upper, p) per spec §3: lower ≤ upper,
// and p is the correctness probability of the interval containing the
// true value.
type Cardinality struct {
	Lower uint64
	Upper uint64
	P     float64
}

// Exact builds a CardinalityEstimate with p=1.0 and lower=upper=n, the
// shape used when injecting a measured cardinality (spec §4.3).
func Exact(n uint64) Cardinality {
	return Cardinality{Lower: n, Upper: n, P: 1.0}
}

// Unknown is the fallback estimate used when no estimator is configured
// and no fallback policy overrides it: a maximally wide, zero-confidence
// interval that never claims certainty it doesn't have.
var Unknown = Cardinality{Lower: 0, Upper: ^uint64(0), P: 0}

func (c Cardinality) String() string {
	return fmt.Sprintf("[%d,%d]@%.2f", c.Lower, c.Upper, c.P)
}

// Equal implements the "null-safe equality" spec §4.3 needs to decide
// whether setting an output cardinality actually changes it.
func (c Cardinality) Equal(o Cardinality) bool {
	return c.Lower == o.Lower && c.Upper == o.Upper && c.P == o.P
}

// Add composes two independent cardinality estimates (e.g. a union of
// two inputs): interval bounds add, and probability takes the minimum
// per spec §3 ("addition and multiplication preserve these via interval
// arithmetic with p' = min(p1, p2)").
func Add(a, b Cardinality) Cardinality {
	return Cardinality{
		Lower: a.Lower + b.Lower,
		Upper: a.Upper + b.Upper,
		P:     minF(a.P, b.P),
	}
}

// Mul composes two independent cardinality estimates multiplicatively
// (e.g. a cross join or a per-iteration multiplier).
func Mul(a, b Cardinality) Cardinality {
	return Cardinality{
		Lower: a.Lower * b.Lower,
		Upper: a.Upper * b.Upper,
		P:     minF(a.P, b.P),
	}
}

// Scale multiplies both bounds by a non-negative scalar (e.g. a
// selectivity), leaving p unchanged: scaling isn't composing two
// independent measurements, just narrowing one.
func Scale(a Cardinality, factor float64) Cardinality {
	if factor < 0 {
		factor = 0
	}
	return Cardinality{
		Lower: uint64(float64(a.Lower) * factor),
		Upper: uint64(float64(a.Upper) * factor),
		P:     a.P,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Mid returns the midpoint of the interval, used as the value of the
// inK/outK symbols in load-profile expressions and as the prior in the
// driver's drift check.
func (c Cardinality) Mid() float64 {
	return (float64(c.Lower) + float64(c.Upper)) / 2
}
