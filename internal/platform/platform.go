// Package platform declares the backend contract Rheem's core consumes
// (spec §6 "External Interfaces"). Concrete backend adapters (a local
// in-process engine, a distributed cluster engine, a relational database
// adapter, ...) implement these interfaces; the core never reaches past
// them into backend-specific physical channel types or UDF compilation.
package platform

import (
	"context"

	"github.com/google/uuid"
)

// ID identifies a registered platform, e.g. "local", "db", "cluster".
type ID string

// Platform is a backend's identity plus its Executor factory.
type Platform interface {
	ID() ID
	DisplayName() string
	NewExecutor() (Executor, error)
}

// Executor runs execution tasks for one platform. Idempotent Dispose
// lets the driver call it defensively on every shutdown path.
type Executor interface {
	// Execute runs one task against already-resolved input channel
	// instances and returns the output instances plus, if the backend
	// measured anything, a PartialExecution record. Each call is an
	// atomic unit from the core's perspective (spec §5): no partial
	// output is ever observed.
	Execute(ctx context.Context, task Task, inputs []ChannelInstance) ([]ChannelInstance, *PartialExecution, error)

	// Dispose releases backend resources. Safe to call more than once.
	Dispose() error
}

// Task is the minimal view of an execution task a backend Executor
// needs: its own execution operator plus an opaque correlation ID
// (used to populate BackendExecutionError's failing-task identifier).
type Task struct {
	ID       string
	Operator ExecutionOperator
}

// NewTaskID mints a fresh task correlation ID.
func NewTaskID() string { return uuid.NewString() }

// ExecutionOperator is the per-slot capability contract every execution
// (backend-bound) operator implements (spec §6).
type ExecutionOperator interface {
	Platform() ID

	// SupportedInputChannels lists the channel descriptors input slot i
	// can accept, in preference order.
	SupportedInputChannels(slot int) []ChannelDescriptor

	// OutputChannelDescriptor is the descriptor output slot i produces.
	OutputChannelDescriptor(slot int) ChannelDescriptor

	// CreateOutputChannelInstances materializes the runtime channel
	// instances for this task's outputs.
	CreateOutputChannelInstances(task Task, ctx context.Context, inputs []ChannelInstance) ([]ChannelInstance, error)

	// Evaluate runs the operator, returning any per-operator contexts it
	// recorded (for the execution log) and the instances it produced.
	Evaluate(ctx context.Context, inputs, outputs []ChannelInstance, exec Executor) ([]OperatorExecution, []ChannelInstance, error)

	// LoadProfileEstimatorConfigurationKey names the config key (§6:
	// "rheem.<platform>.<op>.load") this operator's load estimator is
	// parsed from, or "" if it only has a built-in estimator.
	LoadProfileEstimatorConfigurationKey() string
}

// ChannelDescriptor identifies a channel's type and capabilities.
type ChannelDescriptor struct {
	Name             string
	Platform         ID
	Reusable         bool // can be consumed by more than one broadcast input
	Internal         bool // never crosses a process boundary
	SupportsBroadcast bool
}

// ChannelInstance is the runtime materialization of a Channel (spec §3).
type ChannelInstance interface {
	Descriptor() ChannelDescriptor
	WasProduced() bool
	MarkProduced()
	MeasuredCardinality() (uint64, bool)
	SetMeasuredCardinality(uint64)
	IsMarkedForInstrumentation() bool
	LazyChannelLineage() []ChannelInstance
}

// OperatorExecution is one operator's contribution to a PartialExecution
// record (spec §6 execution log format).
type OperatorExecution struct {
	OperatorClass string
	InputCards    []uint64
	OutputCards   []uint64
	// InputP/OutputP carry the correctness probability of each
	// cardinality so the learner (C8) can filter low-confidence samples.
	InputP  []float64
	OutputP []float64
}

// PartialExecution is one atomic backend run, as reported by an
// Executor and accumulated by the driver (spec §3, §6, §8).
type PartialExecution struct {
	DurationMs         float64
	InvolvedPlatforms  []ID
	OperatorExecutions []OperatorExecution
}
