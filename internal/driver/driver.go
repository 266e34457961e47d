// Package driver implements C7: lowering a PlanImplementation into
// execution stages split at platform boundaries, running each stage to
// a breakpoint, injecting measured cardinalities back into the
// optimizer, and re-optimizing the unexecuted remainder before
// continuing (spec §5, §8). Grounded in the teacher's
// TransactionExecutor's phase-by-phase commit protocol
// (internal/executor/transaction_executor.go), generalized from "one
// in-process engine" to "possibly many backend platforms, possibly
// looping over a nested body."
package driver

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/namyoh/rheem/internal/cardinality"
	"github.com/namyoh/rheem/internal/enumerator"
	"github.com/namyoh/rheem/internal/executionlog"
	"github.com/namyoh/rheem/internal/optctx"
	"github.com/namyoh/rheem/internal/planmodel"
	"github.com/namyoh/rheem/internal/platform"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

// Registry resolves a platform ID to its live Platform instance.
type Registry struct {
	platforms map[platform.ID]platform.Platform
}

// NewRegistry builds an empty platform Registry.
func NewRegistry() *Registry { return &Registry{platforms: make(map[platform.ID]platform.Platform)} }

// Register adds a platform, keyed by its own ID().
func (r *Registry) Register(p platform.Platform) { r.platforms[p.ID()] = p }

// Get resolves a platform by ID, or (nil, false) if unregistered.
func (r *Registry) Get(id platform.ID) (platform.Platform, bool) {
	p, ok := r.platforms[id]
	return p, ok
}

// Stage is a maximal run of execution operators bound to the same
// platform, in the order Execute must submit them (producers before
// consumers). Plan starts a new stage whenever the next operator in
// producer-first order runs on a different platform from the previous
// one (spec §5: "a stage split is required whenever two adjacent
// operators run on different platforms").
type Stage struct {
	Platform platform.ID
	Ops      []stageOp
}

func (*Stage) unit() {}

// LoopUnit wraps one loop-head operator's body as a nested sequence of
// units, to be run Iterations times (spec §4.7 step 5, §8 scenario 4:
// "repeat N=3"). Between iterations, the driver re-pushes cardinalities
// and re-enumerates the body when Options.Reoptimize is set, then
// replaces any not-yet-executed body units with the freshly re-lowered
// ones — the same drift handling Run applies at plan level (spec §4.7
// step 4), applied at loop granularity.
type LoopUnit struct {
	Head       *planmodel.Operator
	Inner      *planmodel.Plan
	Iterations int
	Body       []unit
}

func (*LoopUnit) unit() {}

// unit is one item in a staged execution plan: either a Stage (a
// contiguous platform run) or a LoopUnit (a loop body run Iterations
// times). It is a closed, unexported sum type; only this package
// constructs units.
type unit interface{ unit() }

// stageOp pairs an elementary-logical operator (the stable identity
// carrying the real plan-graph connections) with the execution operator
// the enumerator chose for it.
type stageOp struct {
	Logical *planmodel.Operator
	Exec    *planmodel.Operator
}

// Breakpoint explains why execution paused after a stage (spec §5).
type Breakpoint string

const (
	BreakpointFrontier         Breakpoint = "frontier"          // ran out of ready stages
	BreakpointCardinalityDrift Breakpoint = "cardinality-drift" // a measured value invalidated downstream estimates
	BreakpointLoopIteration    Breakpoint = "loop-iteration"    // a loop body finished one iteration; re-plan before the next
	BreakpointDone             Breakpoint = "done"
)

// Options controls re-optimization and logging behavior.
type Options struct {
	Reoptimize    bool
	SkipExecution bool // when true, Run returns BreakpointDone without running any stage; no backend is called (spec §6 debug flag)
	Log           *executionlog.Writer
}

// Driver runs execution stages against a platform Registry, threading
// measured cardinalities back through a cardinality.Engine and
// re-enumerating with an enumerator.Enumerator when Options.Reoptimize
// is set (spec §5, §8).
type Driver struct {
	registry *Registry
	arena    *optctx.Arena
	cardEng  *cardinality.Engine
	enum     *enumerator.Enumerator
	opts     Options
	log      zerolog.Logger

	// currentPlan is the full plan graph being executed, needed so a
	// measured-cardinality injection mid-run can re-push estimates
	// through the whole graph, not just the completed stage.
	currentPlan *planmodel.Plan
}

// New builds a Driver.
func New(registry *Registry, arena *optctx.Arena, cardEng *cardinality.Engine, enum *enumerator.Enumerator, opts Options, log zerolog.Logger) *Driver {
	return &Driver{registry: registry, arena: arena, cardEng: cardEng, enum: enum, opts: opts, log: log.With().Str("component", "driver").Logger()}
}

// Plan splits plan's execution operators (as assigned by impl.ExecOps)
// into a sequence of units in topological order: ordinary
// elementary-logical runs become Stages, broken whenever the platform
// changes along a connection (spec §5), and a loop-head operator
// becomes a LoopUnit wrapping its body's own recursively-built units
// (spec §4.7 step 5).
func Plan(plan *planmodel.Plan, impl *enumerator.PlanImplementation) []unit {
	var units []unit
	var current *Stage
	flush := func() {
		if current != nil {
			units = append(units, current)
			current = nil
		}
	}

	// Operators() walks sink-first; reverse it so producers are staged
	// (and flushed) before their consumers, matching execution order.
	sinkFirst := plan.Operators()
	forward := make([]*planmodel.Operator, len(sinkFirst))
	for i, op := range sinkFirst {
		forward[len(sinkFirst)-1-i] = op
	}

	for _, logicalOp := range forward {
		switch logicalOp.Variant {
		case planmodel.VariantElementaryLogical:
			execOp, ok := impl.ExecOps[logicalOp.ID]
			if !ok {
				continue
			}
			p := execOp.Platform()
			if current == nil || current.Platform != p {
				flush()
				current = &Stage{Platform: p}
			}
			current.Ops = append(current.Ops, stageOp{Logical: logicalOp, Exec: execOp})

		case planmodel.VariantLoopHead:
			flush()
			iterations := 1
			if logicalOp.Loop != nil {
				iterations = logicalOp.Loop.ExpectedIterations
			}
			if iterations < 1 {
				iterations = 1
			}
			var body []unit
			var inner *planmodel.Plan
			if logicalOp.CompositePlan != nil && logicalOp.CompositePlan.Inner != nil {
				inner = logicalOp.CompositePlan.Inner
				body = Plan(inner, impl)
			}
			units = append(units, &LoopUnit{Head: logicalOp, Inner: inner, Iterations: iterations, Body: body})

		case planmodel.VariantComposite:
			flush()
			if logicalOp.CompositePlan != nil && logicalOp.CompositePlan.Inner != nil {
				units = append(units, Plan(logicalOp.CompositePlan.Inner, impl)...)
			}
		}
	}
	flush()
	return units
}

// instances tracks the live ChannelInstance produced for each (logical
// operator ID, output slot), so a downstream stage's task can consume
// its upstream producer's actual output. Keyed by the elementary-logical
// operator's ID, since that identity carries the real plan connections;
// the execution operator replacements built by mapping (C2) are freestanding
// nodes with no wiring of their own.
type instances struct {
	byOp map[planmodel.ID][]platform.ChannelInstance
}

// Run executes the whole plan, stopping only on a context cancellation
// or an unrecoverable error, and returns BreakpointDone on completion.
// Cardinality-drift and loop-iteration breakpoints are handled inline:
// when Options.Reoptimize is set, the unexecuted remainder is
// re-enumerated and re-lowered into fresh units before execution
// continues, so the re-planned remainder actually drives what runs next
// rather than being discarded (spec §4.7 step 4, §8 scenario 3).
func (d *Driver) Run(ctx context.Context, plan *planmodel.Plan, impl *enumerator.PlanImplementation) (Breakpoint, error) {
	if d.opts.SkipExecution {
		d.log.Info().Msg("skipexecution set, returning without running any backend")
		return BreakpointDone, nil
	}

	d.currentPlan = plan
	units := Plan(plan, impl)
	st := &instances{byOp: make(map[planmodel.ID][]platform.ChannelInstance)}

	if err := d.runUnits(ctx, &units, st); err != nil {
		return "", err
	}
	return BreakpointDone, nil
}

// runUnits executes units in order. On a cardinality-drift breakpoint
// from a Stage (or a loop-iteration boundary from a LoopUnit), it
// re-enumerates the shared plan and splices a freshly-lowered remainder
// in place of whatever in *units hasn't executed yet, so later stages
// always reflect the latest re-optimization.
func (d *Driver) runUnits(ctx context.Context, units *[]unit, st *instances) error {
	for i := 0; i < len(*units); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch u := (*units)[i].(type) {
		case *Stage:
			bp, err := d.runStage(ctx, u, st)
			if err != nil {
				return err
			}
			if bp == BreakpointCardinalityDrift && d.opts.Reoptimize {
				if err := d.reoptimizeRemainder("cardinality drift detected, re-optimizing remaining plan", units, i, st); err != nil {
					return err
				}
			}

		case *LoopUnit:
			for iter := 0; iter < u.Iterations; iter++ {
				body := u.Body
				if err := d.runUnits(ctx, &body, st); err != nil {
					return err
				}
				u.Body = body
				lastIteration := iter == u.Iterations-1
				d.log.Info().Int("iteration", iter).Int("of", u.Iterations).
					Str("breakpoint", string(BreakpointLoopIteration)).Msg("loop body iteration complete")
				if !lastIteration && d.opts.Reoptimize && u.Inner != nil {
					if err := d.reoptimizeLoopBody(u); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// reoptimizeRemainder re-pushes cardinalities, re-enumerates the whole
// plan, and replaces the not-yet-executed tail of *units (everything
// after index i) with the units Plan derives from the new
// implementation, skipping operators already recorded in st (spec §4.7
// step 4).
func (d *Driver) reoptimizeRemainder(msg string, units *[]unit, i int, st *instances) error {
	d.log.Info().Msg(msg)
	d.cardEng.Push(d.currentPlan)
	d.arena.ClearMarks()
	newImpl, err := d.enum.Enumerate(d.currentPlan)
	if err != nil {
		return fmt.Errorf("driver.Run: re-optimization failed: %w", err)
	}
	remaining := filterCompleted(Plan(d.currentPlan, newImpl), st)
	*units = append((*units)[:i+1], remaining...)
	return nil
}

// reoptimizeLoopBody re-enumerates u's inner plan alone and replaces its
// remaining body units, so the next iteration runs against the latest
// re-optimization without re-planning operators outside the loop.
func (d *Driver) reoptimizeLoopBody(u *LoopUnit) error {
	d.log.Info().Msg("loop iteration boundary, re-optimizing loop body before next iteration")
	d.cardEng.Push(u.Inner)
	d.arena.ClearMarks()
	newImpl, err := d.enum.Enumerate(u.Inner)
	if err != nil {
		return fmt.Errorf("driver.Run: loop body re-optimization failed: %w", err)
	}
	u.Body = Plan(u.Inner, newImpl)
	return nil
}

// filterCompleted drops stageOps (and empty Stages) for operators whose
// output is already recorded in st, so re-splicing a freshly-lowered
// plan doesn't re-run work that already happened.
func filterCompleted(units []unit, st *instances) []unit {
	var out []unit
	for _, u := range units {
		switch v := u.(type) {
		case *Stage:
			var ops []stageOp
			for _, op := range v.Ops {
				if _, done := st.byOp[op.Logical.ID]; !done {
					ops = append(ops, op)
				}
			}
			if len(ops) > 0 {
				out = append(out, &Stage{Platform: v.Platform, Ops: ops})
			}
		case *LoopUnit:
			out = append(out, v)
		}
	}
	return out
}

// runStage submits stage's operators in order against one executor
// (each depends on its predecessor's output instances, so a stage is a
// sequential pipeline, not a fan-out). It returns
// BreakpointCardinalityDrift if any task's measured cardinality differs
// from the optimizer's estimate by more than a fixed tolerance.
func (d *Driver) runStage(ctx context.Context, stage *Stage, st *instances) (Breakpoint, error) {
	p, ok := d.registry.Get(stage.Platform)
	if !ok {
		return "", rheemerrors.Configuration("driver.runStage", fmt.Sprintf("no registered platform %q", stage.Platform))
	}
	exec, err := p.NewExecutor()
	if err != nil {
		return "", rheemerrors.Configuration("driver.runStage", fmt.Sprintf("platform %q: building executor: %v", stage.Platform, err))
	}
	defer exec.Dispose()

	drift := false
	for _, op := range stage.Ops {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if err := d.runTask(ctx, op.Logical, op.Exec, exec, st, &drift); err != nil {
			return "", err
		}
	}
	if drift {
		return BreakpointCardinalityDrift, nil
	}
	return BreakpointFrontier, nil
}

// runTask executes one operator, stores its output instances, injects
// any measured cardinality back into the cardinality engine, and
// appends a Record to the execution log if enabled (spec §5, §6).
// logicalOp carries the plan-graph identity (ID, Inputs/Connections) used
// for bookkeeping; execOp carries the concrete backend operator (Exec,
// Platform) the enumerator chose to run it with.
func (d *Driver) runTask(ctx context.Context, logicalOp, execOp *planmodel.Operator, exec platform.Executor, st *instances, drift *bool) error {
	taskID := platform.NewTaskID()
	task := platform.Task{ID: taskID, Operator: execOp.Exec}

	inputs := d.gatherInputInstances(logicalOp, st)
	outputs, pe, err := exec.Execute(ctx, task, inputs)
	if err != nil {
		return rheemerrors.BackendExecution("driver.runTask", taskID, err)
	}
	st.byOp[logicalOp.ID] = outputs

	for i, out := range outputs {
		measured, ok := out.MeasuredCardinality()
		if !ok {
			continue
		}
		prior := d.arena.Get(logicalOp.ID)
		var priorEstimate uint64
		if i < len(prior.OutputCardinalities) {
			priorEstimate = uint64(prior.OutputCardinalities[i].Mid())
		}
		changedEnough := priorEstimate == 0 || driftRatio(priorEstimate, measured) > 0.5
		d.cardEng.InjectMeasured(d.currentPlan, logicalOp, i, measured)
		if changedEnough {
			*drift = true
		}
	}

	if d.opts.Log != nil && pe != nil {
		rec := executionlog.NewRecord(string(logicalOp.Kind), string(execOp.Platform()), *pe, executionlog.NowUnixMs())
		if err := d.opts.Log.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

func driftRatio(prior, measured uint64) float64 {
	if prior == 0 {
		return 1
	}
	diff := float64(measured) - float64(prior)
	if diff < 0 {
		diff = -diff
	}
	return diff / float64(prior)
}

// gatherInputInstances resolves logicalOp's upstream channel instances
// from prior stages' recorded outputs, in input-slot order. logicalOp
// must be the elementary-logical operator: only that plan graph carries
// real Connections between producer and consumer.
func (d *Driver) gatherInputInstances(logicalOp *planmodel.Operator, st *instances) []platform.ChannelInstance {
	inputs := make([]platform.ChannelInstance, len(logicalOp.Inputs))
	for i, in := range logicalOp.Inputs {
		conn := in.Connection()
		if conn == nil {
			continue
		}
		producerOutputs := st.byOp[conn.FromOp.ID]
		if conn.FromSlot < len(producerOutputs) {
			inputs[i] = producerOutputs[conn.FromSlot]
		}
	}
	return inputs
}

// OrderedStagePlatforms returns the distinct platforms touched by units,
// sorted and deduplicated, recursing into any LoopUnit bodies. It backs
// the CLI's plan-explain mode (cmd/rheem's Explain).
func OrderedStagePlatforms(units []unit) []string {
	seen := map[string]bool{}
	var out []string
	var walk func([]unit)
	walk = func(us []unit) {
		for _, u := range us {
			switch v := u.(type) {
			case *Stage:
				k := string(v.Platform)
				if !seen[k] {
					seen[k] = true
					out = append(out, k)
				}
			case *LoopUnit:
				walk(v.Body)
			}
		}
	}
	walk(units)
	sort.Strings(out)
	return out
}
