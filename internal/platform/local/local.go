// Package local is a concrete, in-process Platform implementation of
// the backend contract (package platform), adequate to run the worked
// examples in spec §8 end to end without any external system. Grounded
// in the teacher's executor package's Volcano-style operator evaluation
// (internal/executor/operator.go, scan_operators.go): each local
// execution operator's Evaluate pulls its inputs eagerly into memory and
// pushes a materialized []interface{} downstream, the same "evaluate
// fully, then hand off" shape the teacher's scan/aggregate operators use
// for an in-memory page buffer.
package local

import (
	"context"
	"fmt"

	"github.com/namyoh/rheem/internal/platform"
)

// ID is this package's platform identifier, used in
// "rheem.local.<op>.load" configuration keys (spec §6) and in
// mapping.PlanTransformation.TargetPlatform.
const ID platform.ID = "local"

// Descriptor is the single channel shape local operators produce and
// consume: an in-process Go slice, never crossing a process boundary.
var Descriptor = platform.ChannelDescriptor{Name: "local.collection", Platform: ID, Reusable: true, Internal: true}

// Platform implements platform.Platform for the in-process engine.
type Platform struct{}

// New builds the local Platform.
func New() *Platform { return &Platform{} }

func (p *Platform) ID() platform.ID     { return ID }
func (p *Platform) DisplayName() string { return "Local (in-process)" }
func (p *Platform) NewExecutor() (platform.Executor, error) { return &executor{}, nil }

type executor struct{}

// Execute runs a local execution operator's Evaluate directly; there is
// no separate backend process to hand off to (spec §6: "a platform may
// be trivial — execution and evaluation coincide").
func (e *executor) Execute(ctx context.Context, task platform.Task, inputs []platform.ChannelInstance) ([]platform.ChannelInstance, *platform.PartialExecution, error) {
	outputs, err := task.Operator.CreateOutputChannelInstances(task, ctx, inputs)
	if err != nil {
		return nil, nil, err
	}
	opExecs, produced, err := task.Operator.Evaluate(ctx, inputs, outputs, e)
	if err != nil {
		return nil, nil, err
	}
	pe := &platform.PartialExecution{
		DurationMs:         0, // the in-process engine doesn't self-time; the driver stamps wall-clock around Execute if it wants duration
		InvolvedPlatforms:  []platform.ID{ID},
		OperatorExecutions: opExecs,
	}
	return produced, pe, nil
}

func (e *executor) Dispose() error { return nil }

// Instance is the local ChannelInstance: an in-memory slice of opaque
// row values.
type Instance struct {
	Rows       []interface{}
	produced   bool
	measured   *uint64
	instrument bool
}

// NewInstance wraps rows as a local ChannelInstance.
func NewInstance(rows []interface{}) *Instance { return &Instance{Rows: rows} }

func (i *Instance) Descriptor() platform.ChannelDescriptor { return Descriptor }
func (i *Instance) WasProduced() bool                      { return i.produced }
func (i *Instance) MarkProduced()                           { i.produced = true }
func (i *Instance) MeasuredCardinality() (uint64, bool) {
	if i.measured == nil {
		return 0, false
	}
	return *i.measured, true
}
func (i *Instance) SetMeasuredCardinality(n uint64)     { i.measured = &n }
func (i *Instance) IsMarkedForInstrumentation() bool    { return i.instrument }
func (i *Instance) LazyChannelLineage() []platform.ChannelInstance { return nil }

// baseOperator carries the fields every local execution operator shares:
// its load-profile configuration key and slot arities.
type baseOperator struct {
	nIn, nOut int
	loadKey   string
}

func (b baseOperator) Platform() platform.ID { return ID }
func (b baseOperator) SupportedInputChannels(slot int) []platform.ChannelDescriptor {
	return []platform.ChannelDescriptor{Descriptor}
}
func (b baseOperator) OutputChannelDescriptor(slot int) platform.ChannelDescriptor { return Descriptor }
func (b baseOperator) LoadProfileEstimatorConfigurationKey() string                { return b.loadKey }
func (b baseOperator) CreateOutputChannelInstances(task platform.Task, ctx context.Context, inputs []platform.ChannelInstance) ([]platform.ChannelInstance, error) {
	out := make([]platform.ChannelInstance, b.nOut)
	for i := range out {
		out[i] = NewInstance(nil)
	}
	return out, nil
}

// SourceOperator emits a fixed, pre-loaded row set.
type SourceOperator struct {
	baseOperator
	Rows []interface{}
}

// NewSourceOperator builds a local source over rows.
func NewSourceOperator(rows []interface{}) *SourceOperator {
	return &SourceOperator{baseOperator: baseOperator{nIn: 0, nOut: 1, loadKey: "source"}, Rows: rows}
}

func (s *SourceOperator) Evaluate(ctx context.Context, inputs, outputs []platform.ChannelInstance, exec platform.Executor) ([]platform.OperatorExecution, []platform.ChannelInstance, error) {
	out := outputs[0].(*Instance)
	out.Rows = s.Rows
	out.MarkProduced()
	out.SetMeasuredCardinality(uint64(len(s.Rows)))
	oe := platform.OperatorExecution{
		OperatorClass: "local.Source",
		OutputCards:   []uint64{uint64(len(s.Rows))},
		OutputP:       []float64{1.0},
	}
	return []platform.OperatorExecution{oe}, outputs, nil
}

// MapOperator applies Fn to every input row.
type MapOperator struct {
	baseOperator
	Fn func(interface{}) (interface{}, error)
}

// NewMapOperator builds a local map operator.
func NewMapOperator(fn func(interface{}) (interface{}, error)) *MapOperator {
	return &MapOperator{baseOperator: baseOperator{nIn: 1, nOut: 1, loadKey: "map"}, Fn: fn}
}

func (m *MapOperator) Evaluate(ctx context.Context, inputs, outputs []platform.ChannelInstance, exec platform.Executor) ([]platform.OperatorExecution, []platform.ChannelInstance, error) {
	in, ok := inputs[0].(*Instance)
	if !ok || in == nil {
		return nil, nil, fmt.Errorf("local.MapOperator.Evaluate: missing local input instance")
	}
	rows := make([]interface{}, 0, len(in.Rows))
	for _, r := range in.Rows {
		v, err := m.Fn(r)
		if err != nil {
			return nil, nil, fmt.Errorf("local.MapOperator.Evaluate: %w", err)
		}
		rows = append(rows, v)
	}
	out := outputs[0].(*Instance)
	out.Rows = rows
	out.MarkProduced()
	out.SetMeasuredCardinality(uint64(len(rows)))
	oe := platform.OperatorExecution{
		OperatorClass: "local.Map",
		InputCards:    []uint64{uint64(len(in.Rows))},
		InputP:        []float64{1.0},
		OutputCards:   []uint64{uint64(len(rows))},
		OutputP:       []float64{1.0},
	}
	return []platform.OperatorExecution{oe}, outputs, nil
}

// FilterOperator keeps only rows for which Pred returns true.
type FilterOperator struct {
	baseOperator
	Pred func(interface{}) (bool, error)
}

// NewFilterOperator builds a local filter operator.
func NewFilterOperator(pred func(interface{}) (bool, error)) *FilterOperator {
	return &FilterOperator{baseOperator: baseOperator{nIn: 1, nOut: 1, loadKey: "filter"}, Pred: pred}
}

func (f *FilterOperator) Evaluate(ctx context.Context, inputs, outputs []platform.ChannelInstance, exec platform.Executor) ([]platform.OperatorExecution, []platform.ChannelInstance, error) {
	in, ok := inputs[0].(*Instance)
	if !ok || in == nil {
		return nil, nil, fmt.Errorf("local.FilterOperator.Evaluate: missing local input instance")
	}
	rows := make([]interface{}, 0, len(in.Rows))
	for _, r := range in.Rows {
		keep, err := f.Pred(r)
		if err != nil {
			return nil, nil, fmt.Errorf("local.FilterOperator.Evaluate: %w", err)
		}
		if keep {
			rows = append(rows, r)
		}
	}
	out := outputs[0].(*Instance)
	out.Rows = rows
	out.MarkProduced()
	out.SetMeasuredCardinality(uint64(len(rows)))
	oe := platform.OperatorExecution{
		OperatorClass: "local.Filter",
		InputCards:    []uint64{uint64(len(in.Rows))},
		InputP:        []float64{1.0},
		OutputCards:   []uint64{uint64(len(rows))},
		OutputP:       []float64{1.0},
	}
	return []platform.OperatorExecution{oe}, outputs, nil
}

// SinkOperator collects the final rows into Collected.
type SinkOperator struct {
	baseOperator
	Collected []interface{}
}

// NewSinkOperator builds a local sink operator.
func NewSinkOperator() *SinkOperator {
	return &SinkOperator{baseOperator: baseOperator{nIn: 1, nOut: 0, loadKey: "sink"}}
}

func (s *SinkOperator) Evaluate(ctx context.Context, inputs, outputs []platform.ChannelInstance, exec platform.Executor) ([]platform.OperatorExecution, []platform.ChannelInstance, error) {
	in, ok := inputs[0].(*Instance)
	if !ok || in == nil {
		return nil, nil, fmt.Errorf("local.SinkOperator.Evaluate: missing local input instance")
	}
	s.Collected = in.Rows
	oe := platform.OperatorExecution{
		OperatorClass: "local.Sink",
		InputCards:    []uint64{uint64(len(in.Rows))},
		InputP:        []float64{1.0},
	}
	return []platform.OperatorExecution{oe}, nil, nil
}
