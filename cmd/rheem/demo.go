package main

import (
	"fmt"
	"strings"

	"github.com/namyoh/rheem/internal/driver"
	"github.com/namyoh/rheem/internal/enumerator"
	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/planmodel"
	"github.com/namyoh/rheem/internal/platform/local"
)

// buildDemoPlan constructs the worked example from spec §8: source ->
// filter (keep even numbers) -> map (square) -> sink, all on the local
// platform, and registers the one mapping transformation each
// elementary-logical operator needs to become a local execution
// operator.
func buildDemoPlan(m *mapping.Mapping, sink *local.SinkOperator) (*planmodel.Plan, error) {
	source := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantElementaryLogical, 0, 1)
	source.Outputs[0].Estimator = func(inputs []estimate.Cardinality) estimate.Cardinality {
		return estimate.Cardinality{Lower: 100, Upper: 100, P: 1.0}
	}

	filter := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantElementaryLogical, 1, 1)
	filter.Outputs[0].Estimator = func(inputs []estimate.Cardinality) estimate.Cardinality {
		return estimate.Scale(inputs[0], 0.5)
	}

	mapOp := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantElementaryLogical, 1, 1)
	mapOp.Outputs[0].Estimator = func(inputs []estimate.Cardinality) estimate.Cardinality { return inputs[0] }

	sinkOp := planmodel.NewOperator(planmodel.KindSink, planmodel.VariantElementaryLogical, 1, 0)

	if err := planmodel.Connect(source, 0, filter, 0); err != nil {
		return nil, err
	}
	if err := planmodel.Connect(filter, 0, mapOp, 0); err != nil {
		return nil, err
	}
	if err := planmodel.Connect(mapOp, 0, sinkOp, 0); err != nil {
		return nil, err
	}

	m.Add(mapping.PlanTransformation{
		Name:           "local.source",
		TargetPlatform: string(local.ID),
		Pattern:        mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindSource}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			rows := make([]interface{}, 100)
			for i := range rows {
				rows[i] = i
			}
			op := planmodel.NewOperator(planmodel.KindSource, planmodel.VariantExecution, 0, 1)
			op.Exec = local.NewSourceOperator(rows)
			return op, nil
		},
	})
	m.Add(mapping.PlanTransformation{
		Name:           "local.filter",
		TargetPlatform: string(local.ID),
		Pattern:        mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindFilter}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			op := planmodel.NewOperator(planmodel.KindFilter, planmodel.VariantExecution, 1, 1)
			op.Exec = local.NewFilterOperator(func(row interface{}) (bool, error) {
				return row.(int)%2 == 0, nil
			})
			return op, nil
		},
	})
	m.Add(mapping.PlanTransformation{
		Name:           "local.map",
		TargetPlatform: string(local.ID),
		Pattern:        mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindMap}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			op := planmodel.NewOperator(planmodel.KindMap, planmodel.VariantExecution, 1, 1)
			op.Exec = local.NewMapOperator(func(row interface{}) (interface{}, error) {
				n := row.(int)
				return n * n, nil
			})
			return op, nil
		},
	})
	m.Add(mapping.PlanTransformation{
		Name:           "local.sink",
		TargetPlatform: string(local.ID),
		Pattern:        mapping.SubplanPattern{Root: mapping.OperatorPattern{Kind: planmodel.KindSink}},
		ReplacementFactory: func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error) {
			op := planmodel.NewOperator(planmodel.KindSink, planmodel.VariantExecution, 1, 0)
			op.Exec = sink
			return op, nil
		},
	})

	return planmodel.NewPlan([]*planmodel.Operator{sinkOp}, map[string]bool{string(local.ID): true}), nil
}

// Explain renders an EXPLAIN-style summary of a chosen implementation,
// ported from the teacher's QueryPlan.Explain()/PhysicalPlan.String()
// (internal/optimizer/optimizer.go, plan.go). plan is lowered into
// execution stages the same way driver.Run would; the "stage platforms"
// line lists the distinct platforms of those stages in sorted order,
// not the order in which the stages run.
func Explain(plan *planmodel.Plan, impl *enumerator.PlanImplementation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PlanImplementation{time=%.2f..%.2fms@%.2f, cost=%.4f..%.4f@%.2f}\n",
		impl.TotalTime.Lower, impl.TotalTime.Upper, impl.TotalTime.P,
		impl.TotalCost.Lower, impl.TotalCost.Upper, impl.TotalCost.P)
	for id, op := range impl.ExecOps {
		fmt.Fprintf(&b, "  operator %d -> %s on %s\n", id, op.Kind, op.Platform())
	}
	if len(impl.Junctions) > 0 {
		fmt.Fprintf(&b, "  %d channel junction(s)\n", len(impl.Junctions))
	}
	platforms := driver.OrderedStagePlatforms(driver.Plan(plan, impl))
	fmt.Fprintf(&b, "  stage platforms: %s\n", strings.Join(platforms, " -> "))
	return b.String()
}
