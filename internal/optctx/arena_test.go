package optctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/planmodel"
)

func TestGetCreatesContextOnFirstAccess(t *testing.T) {
	a := NewArena()
	id := planmodel.NextID()

	ctx := a.Get(id)
	require.NotNil(t, ctx)
	assert.Same(t, ctx, a.Get(id), "a second Get for the same id returns the same Context")
}

func TestSetOutputCardinalityOnlyMarksChangedOnRealChange(t *testing.T) {
	ctx := &Context{}

	changed := ctx.SetOutputCardinality(0, estimate.Exact(5))
	assert.True(t, changed)
	assert.True(t, ctx.Changed())

	ctx.changed = false
	changed = ctx.SetOutputCardinality(0, estimate.Exact(5))
	assert.False(t, changed, "setting the same value again must not mark dirty")
	assert.False(t, ctx.Changed())

	changed = ctx.SetOutputCardinality(0, estimate.Exact(6))
	assert.True(t, changed)
}

func TestSetOutputCardinalityGrowsSliceForHigherSlots(t *testing.T) {
	ctx := &Context{}
	ctx.SetOutputCardinality(2, estimate.Exact(9))
	require.Len(t, ctx.OutputCardinalities, 3)
	assert.Equal(t, estimate.Exact(9), ctx.OutputCardinalities[2])
}

func TestClearMarksClearsEveryContextAndLoop(t *testing.T) {
	a := NewArena()
	id := planmodel.NextID()
	ctx := a.Get(id)
	ctx.SetOutputCardinality(0, estimate.Exact(1))
	require.True(t, ctx.Changed())

	loopID := planmodel.NextID()
	loop := a.GetLoop(loopID, 2)
	loop.Iterations[0].changed = true
	loop.PostLoop.changed = true

	a.ClearMarks()

	assert.False(t, ctx.Changed())
	assert.False(t, loop.Iterations[0].Changed())
	assert.False(t, loop.PostLoop.Changed())
}

func TestGetLoopSizesToExpectedIterationsPlusOne(t *testing.T) {
	a := NewArena()
	id := planmodel.NextID()

	loop := a.GetLoop(id, 3)
	require.Len(t, loop.Iterations, 3)
	require.NotNil(t, loop.PostLoop)
}

func TestGetLoopRebuildsWhenExpectedIterationsChanges(t *testing.T) {
	a := NewArena()
	id := planmodel.NextID()

	first := a.GetLoop(id, 2)
	second := a.GetLoop(id, 5)

	assert.NotSame(t, first, second)
	assert.Len(t, second.Iterations, 5)
}

func TestIsTimeEstimatesCompleteIgnoresNonExecutionOperators(t *testing.T) {
	a := NewArena()
	logical := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)

	assert.True(t, a.IsTimeEstimatesComplete([]*planmodel.Operator{logical}))
}

func TestIsTimeEstimatesCompleteFalseUntilSet(t *testing.T) {
	a := NewArena()
	execOp := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantExecution, 1, 1)

	assert.False(t, a.IsTimeEstimatesComplete([]*planmodel.Operator{execOp}))

	ctx := a.Get(execOp.ID)
	ctx.TimeEstimate = estimate.Interval{Lower: 1, Upper: 2, P: 1.0}

	assert.True(t, a.IsTimeEstimatesComplete([]*planmodel.Operator{execOp}))
}
