package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/channel"
	"github.com/namyoh/rheem/internal/config"
	"github.com/namyoh/rheem/internal/driver"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/platform/local"
	"github.com/namyoh/rheem/pkg/rheem"
)

func TestBuildDemoPlanConnectsSourceFilterMapSink(t *testing.T) {
	m := mapping.NewMapping("demo")
	sink := local.NewSinkOperator()

	plan, err := buildDemoPlan(m, sink)

	require.NoError(t, err)
	assert.Len(t, plan.Operators(), 4)
	require.Len(t, m.Transformations, 4)
}

func TestDemoJobEndToEndKeepsEvenSquares(t *testing.T) {
	log = zerolog.Nop()
	cfg := config.Default()

	m := mapping.NewMapping("demo")
	sink := local.NewSinkOperator()
	registry := driver.NewRegistry()
	registry.Register(local.New())

	plan, err := buildDemoPlan(m, sink)
	require.NoError(t, err)

	job, err := rheem.New(plan, m, registry, channel.NewGraph(), cfg, log)
	require.NoError(t, err)
	defer job.Close()

	require.NoError(t, job.Run(context.Background(), nil))

	require.Len(t, sink.Collected, 50)
	for i, v := range sink.Collected {
		n := 2 * i
		assert.Equal(t, n*n, v.(int))
	}
}

func TestExplainRendersTimeCostAndOperatorCount(t *testing.T) {
	log = zerolog.Nop()
	cfg := config.Default()

	m := mapping.NewMapping("demo")
	sink := local.NewSinkOperator()
	registry := driver.NewRegistry()
	registry.Register(local.New())

	plan, err := buildDemoPlan(m, sink)
	require.NoError(t, err)

	job, err := rheem.New(plan, m, registry, channel.NewGraph(), cfg, log)
	require.NoError(t, err)
	defer job.Close()

	impl, err := job.Optimize()
	require.NoError(t, err)

	out := Explain(job.Plan, impl)
	assert.Contains(t, out, "PlanImplementation{time=")
	assert.Contains(t, out, "operator")
	assert.Contains(t, out, "stage platforms: local")
}
