package rheem

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/channel"
	"github.com/namyoh/rheem/internal/config"
	"github.com/namyoh/rheem/internal/driver"
	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/planmodel"
	"github.com/namyoh/rheem/internal/platform/local"
)

func buildJob(t *testing.T, cfg *config.Configuration) (*Job, *local.SinkOperator) {
	t.Helper()
	source := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantElementaryLogical, 0, 1)
	source.Outputs[0].Estimator = func(in []estimate.Cardinality) estimate.Cardinality {
		return estimate.Cardinality{Lower: 4, Upper: 4, P: 1.0}
	}
	sinkLogical := planmodel.NewOperator(planmodel.KindSink, planmodel.VariantElementaryLogical, 1, 0)
	require.NoError(t, planmodel.Connect(source, 0, sinkLogical, 0))
	plan := planmodel.NewPlan([]*planmodel.Operator{sinkLogical}, map[string]bool{string(local.ID): true})

	sink := local.NewSinkOperator()
	m := mapping.NewMapping("test")
	m.Add(mapping.PlanTransformation{
		Name: "local.source", TargetPlatform: string(local.ID),
		Pattern: mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindSource}},
		ReplacementFactory: func(c map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			op := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantExecution, 0, 1)
			op.Exec = local.NewSourceOperator([]interface{}{1, 2, 3, 4})
			return op, nil
		},
	})
	m.Add(mapping.PlanTransformation{
		Name: "local.sink", TargetPlatform: string(local.ID),
		Pattern: mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindSink}},
		ReplacementFactory: func(c map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			op := planmodel.NewOperator(planmodel.KindSink, planmodel.VariantExecution, 1, 0)
			op.Exec = sink
			return op, nil
		},
	})

	registry := driver.NewRegistry()
	registry.Register(local.New())

	job, err := New(plan, m, registry, channel.NewGraph(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return job, sink
}

func TestNewRejectsAnInvalidConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyProfilerGATribes, 0)

	_, err := New(nil, nil, nil, nil, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestOptimizeProducesAPlanImplementationCoveringEveryOperator(t *testing.T) {
	job, _ := buildJob(t, config.Default())

	impl, err := job.Optimize()

	require.NoError(t, err)
	assert.Len(t, impl.ExecOps, 2)
}

func TestRunExecutesTheOptimizedPlanEndToEnd(t *testing.T) {
	job, sink := buildJob(t, config.Default())

	err := job.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3, 4}, sink.Collected)
}

func TestRunReusesAnAlreadyComputedImplementation(t *testing.T) {
	job, sink := buildJob(t, config.Default())

	impl, err := job.Optimize()
	require.NoError(t, err)

	err = job.Run(context.Background(), impl)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3, 4}, sink.Collected)
}

func TestCloseWithoutAnOpenExecutionLogIsANoop(t *testing.T) {
	job, _ := buildJob(t, config.Default())
	assert.NoError(t, job.Close())
}

func TestCloseClosesTheExecutionLogWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyLogEnabled, true)
	cfg.Set(config.KeyLogExecutions, filepath.Join(t.TempDir(), "exec.jsonl"))

	job, _ := buildJob(t, cfg)
	require.NoError(t, job.Run(context.Background(), nil))
	assert.NoError(t, job.Close())
}
