package cardinality

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/optctx"
	"github.com/namyoh/rheem/internal/planmodel"
)

func buildChain(t *testing.T) (src, filter, sink *planmodel.Operator, plan *planmodel.Plan) {
	t.Helper()
	src = planmodel.NewOperator(planmodel.KindSource, planmodel.VariantElementaryLogical, 0, 1)
	src.Outputs[0].Estimator = func(in []estimate.Cardinality) estimate.Cardinality {
		return estimate.Cardinality{Lower: 100, Upper: 100, P: 1.0}
	}
	filter = planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	filter.Outputs[0].Estimator = func(in []estimate.Cardinality) estimate.Cardinality {
		return estimate.Scale(in[0], 0.5)
	}
	sink = planmodel.NewOperator(planmodel.KindSink, planmodel.VariantElementaryLogical, 1, 0)
	require.NoError(t, planmodel.Connect(src, 0, filter, 0))
	require.NoError(t, planmodel.Connect(filter, 0, sink, 0))
	plan = planmodel.NewPlan([]*planmodel.Operator{sink}, nil)
	return
}

func TestPushPropagatesCardinalitiesAlongTheChain(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, nil, zerolog.Nop())
	src, filter, _, plan := buildChain(t)

	eng.Push(plan)

	srcOut := arena.Get(src.ID).OutputCardinalities[0]
	assert.Equal(t, uint64(100), srcOut.Lower)

	filterOut := arena.Get(filter.ID).OutputCardinalities[0]
	assert.Equal(t, uint64(50), filterOut.Lower)
}

func TestPushUsesFallbackWhenNoEstimatorConfigured(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, ConstantFallback(7, 0.5), zerolog.Nop())

	op := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantElementaryLogical, 0, 1) // no Estimator set
	plan := planmodel.NewPlan([]*planmodel.Operator{op}, nil)

	eng.Push(plan)

	out := arena.Get(op.ID).OutputCardinalities[0]
	assert.Equal(t, uint64(7), out.Lower)
	assert.Equal(t, 0.5, out.P)
}

func TestIdentityFallbackPassesThroughFirstInputOrUnknown(t *testing.T) {
	in := []estimate.Cardinality{{Lower: 3, Upper: 5, P: 0.9}}
	assert.Equal(t, in[0], IdentityFallback(nil, in))
	assert.Equal(t, estimate.Unknown, IdentityFallback(nil, nil))
}

func TestGatherInputsDefaultsUnconnectedSlotToUnknown(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, nil, zerolog.Nop())
	op := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	op.Inputs[0].Required = false

	inputs := eng.gatherInputs(op)

	require.Len(t, inputs, 1)
	assert.Equal(t, estimate.Unknown, inputs[0])
}

func TestInjectMeasuredIsIdempotentOnRepeatedValue(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, nil, zerolog.Nop())
	src, _, _, plan := buildChain(t)
	eng.Push(plan)

	eng.InjectMeasured(plan, src, 0, 100) // same value pushed by the initial Push
	ctx := arena.Get(src.ID)
	arena.ClearMarks()

	eng.InjectMeasured(plan, src, 0, 100)
	assert.False(t, ctx.Changed(), "re-injecting an unchanged measured value must not mark the context dirty")
}

func TestInjectMeasuredPropagatesAChangedValueDownstream(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, nil, zerolog.Nop())
	src, filter, _, plan := buildChain(t)
	eng.Push(plan)

	eng.InjectMeasured(plan, src, 0, 40)

	filterOut := arena.Get(filter.ID).OutputCardinalities[0]
	assert.Equal(t, uint64(20), filterOut.Lower, "filter's estimator should re-run against the new measured input")
}

func TestPushLoopPopulatesEachIterationAndPostLoop(t *testing.T) {
	arena := optctx.NewArena()
	eng := NewEngine(arena, nil, zerolog.Nop())

	inner := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantElementaryLogical, 0, 1)
	innerPlan := planmodel.NewPlan([]*planmodel.Operator{inner}, nil)
	loopHead := planmodel.NewCompositeOperator(planmodel.KindMap, planmodel.VariantLoopHead, 1, 1,
		planmodel.NewComposite(innerPlan, nil, nil), &planmodel.LoopSpec{ExpectedIterations: 3})
	loopHead.Outputs[0].Estimator = func(in []estimate.Cardinality) estimate.Cardinality {
		if len(in) == 0 {
			return estimate.Unknown
		}
		return estimate.Scale(in[0], 0.9)
	}
	src := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantElementaryLogical, 0, 1)
	src.Outputs[0].Estimator = func(in []estimate.Cardinality) estimate.Cardinality {
		return estimate.Cardinality{Lower: 1000, Upper: 1000, P: 1.0}
	}
	require.NoError(t, planmodel.Connect(src, 0, loopHead, 0))
	plan := planmodel.NewPlan([]*planmodel.Operator{loopHead}, nil)

	eng.Push(plan)

	loop := arena.GetLoop(loopHead.ID, 3)
	require.Len(t, loop.Iterations, 3)
	assert.Equal(t, uint64(900), loop.Iterations[0].OutputCardinalities[0].Lower)
	assert.NotNil(t, loop.PostLoop)
}
