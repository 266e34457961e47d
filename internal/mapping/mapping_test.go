package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/planmodel"
)

func simpleExecReplacement(kind planmodel.Kind, nIn, nOut int, platform string) ReplacementFactory {
	return func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
		op := planmodel.NewOperator(kind, planmodel.VariantExecution, nIn, nOut)
		return op, nil
	}
}

func TestSubplanPatternMatchesSingleOperator(t *testing.T) {
	sp := SubplanPattern{Root: OperatorPattern{Kind: planmodel.KindFilter, Capture: "f"}}
	op := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)

	captures, ok := sp.Match(op)

	require.True(t, ok)
	assert.Same(t, op, captures["f"])
}

func TestSubplanPatternMatchesChainThroughInputZero(t *testing.T) {
	src := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantElementaryLogical, 0, 1)
	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	require.NoError(t, planmodel.Connect(src, 0, filter, 0))

	sp := SubplanPattern{
		Root:  OperatorPattern{Kind: planmodel.KindFilter},
		Chain: []OperatorPattern{{Kind: planmodel.KindSource, Capture: "src"}},
	}

	captures, ok := sp.Match(filter)
	require.True(t, ok)
	assert.Same(t, src, captures["src"])
}

func TestSubplanPatternFailsOnKindMismatch(t *testing.T) {
	op := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantElementaryLogical, 1, 1)
	sp := SubplanPattern{Root: OperatorPattern{Kind: planmodel.KindFilter}}

	_, ok := sp.Match(op)
	assert.False(t, ok)
}

func TestSubplanPatternFailsWhenChainHasNoUpstream(t *testing.T) {
	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	sp := SubplanPattern{
		Root:  OperatorPattern{Kind: planmodel.KindFilter},
		Chain: []OperatorPattern{{Kind: planmodel.KindSource}},
	}

	_, ok := sp.Match(filter)
	assert.False(t, ok)
}

func TestApplyProducesOneAlternativePerMatchingTransformation(t *testing.T) {
	m := NewMapping("test")
	m.Add(PlanTransformation{
		Name:               "local.filter",
		TargetPlatform:     "local",
		Pattern:            SubplanPattern{Root: OperatorPattern{Kind: planmodel.KindFilter}},
		ReplacementFactory: simpleExecReplacement(planmodel.KindFilter, 1, 1, "local"),
	})

	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	sink := planmodel.NewOperator(planmodel.KindSink, planmodel.VariantElementaryLogical, 1, 0)
	require.NoError(t, planmodel.Connect(filter, 0, sink, 0))
	plan := planmodel.NewPlan([]*planmodel.Operator{sink}, nil)

	hp, err := m.Apply(plan)
	require.NoError(t, err)

	alts := hp.AlternativesFor(filter)
	require.Len(t, alts, 1)
	assert.Equal(t, "local", alts[0].Platform)
	assert.Equal(t, "local.filter", alts[0].TransformationName)
	assert.Equal(t, plan.Epoch+1, alts[0].Op.Epoch)
}

func TestApplyDedupesByPlatformAndTransformationName(t *testing.T) {
	calls := 0
	m := NewMapping("test")
	tr := PlanTransformation{
		Name:           "local.filter",
		TargetPlatform: "local",
		Pattern:        SubplanPattern{Root: OperatorPattern{Kind: planmodel.KindFilter, Capture: "f"}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			calls++
			return planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantExecution, 1, 1), nil
		},
	}
	m.Add(tr)
	m.Add(tr) // same (platform, name) registered twice

	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	plan := planmodel.NewPlan([]*planmodel.Operator{filter}, nil)

	hp, err := m.Apply(plan)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "each (root, transformation) pair should only be applied once")
	assert.Len(t, hp.Alternatives[filter.ID], 1)
}

func TestApplyPropagatesReplacementFactoryErrors(t *testing.T) {
	m := NewMapping("test")
	wantErr := errors.New("boom")
	m.Add(PlanTransformation{
		Name:           "broken",
		TargetPlatform: "local",
		Pattern:        SubplanPattern{Root: OperatorPattern{Kind: planmodel.KindFilter}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			return nil, wantErr
		},
	})
	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	plan := planmodel.NewPlan([]*planmodel.Operator{filter}, nil)

	_, err := m.Apply(plan)
	assert.ErrorIs(t, err, wantErr)
}

func TestAlternativesForUnmatchedOperatorIsEmpty(t *testing.T) {
	hp := &Hyperplan{Alternatives: make(map[planmodel.ID][]Alternative)}
	op := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantElementaryLogical, 1, 1)

	assert.Empty(t, hp.AlternativesFor(op))
}
