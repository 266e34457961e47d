// Package cardinality implements C3: interval cardinality estimation
// over the plan graph, the push traversal algorithm, measured-value
// injection, and incremental re-estimation driven by the optctx marks.
package cardinality

import (
	"github.com/rs/zerolog"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/optctx"
	"github.com/namyoh/rheem/internal/planmodel"
)

// Fallback supplies a CardinalityEstimator for operators that declare
// none, per spec §4.3 ("a configured fallback ... is used with a
// warning").
type Fallback func(op *planmodel.Operator, inputs []estimate.Cardinality) estimate.Cardinality

// IdentityFallback returns the first input unchanged, or Unknown if
// there are no inputs (source-like operator with a missing estimator).
func IdentityFallback(op *planmodel.Operator, inputs []estimate.Cardinality) estimate.Cardinality {
	if len(inputs) == 0 {
		return estimate.Unknown
	}
	return inputs[0]
}

// ConstantFallback returns a fallback that always yields n rows with the
// given confidence.
func ConstantFallback(n uint64, p float64) Fallback {
	return func(op *planmodel.Operator, inputs []estimate.Cardinality) estimate.Cardinality {
		return estimate.Cardinality{Lower: n, Upper: n, P: p}
	}
}

// Engine runs cardinality push traversals against one Arena.
type Engine struct {
	arena    *optctx.Arena
	fallback Fallback
	log      zerolog.Logger
	warned   map[planmodel.ID]bool
}

// NewEngine builds a cardinality Engine. fallback defaults to
// IdentityFallback if nil.
func NewEngine(arena *optctx.Arena, fallback Fallback, log zerolog.Logger) *Engine {
	if fallback == nil {
		fallback = IdentityFallback
	}
	return &Engine{arena: arena, fallback: fallback, log: log.With().Str("component", "cardinality").Logger(), warned: make(map[planmodel.ID]bool)}
}

// Push runs a full push traversal over plan: source operators estimate
// with no inputs, and estimates propagate forward along connections and
// into composites via their slot trace. For a loop-head, the estimator
// runs once per configured iteration context (spec §4.3).
func (e *Engine) Push(plan *planmodel.Plan) {
	// Operators() is sink-first; walk it backwards so every producer is
	// estimated before its consumers.
	ops := plan.Operators()
	for i := len(ops) - 1; i >= 0; i-- {
		e.estimateOperator(ops[i])
	}
}

// estimateOperator computes every output slot's cardinality for op from
// its connected inputs' current estimates, then records the result in
// the arena, marking slots whose value actually changed.
func (e *Engine) estimateOperator(op *planmodel.Operator) {
	inputs := e.gatherInputs(op)
	ctx := e.arena.Get(op.ID)
	ctx.InputCardinalities = inputs

	if op.Variant == planmodel.VariantLoopHead && op.Loop != nil {
		e.pushLoop(op, inputs)
		return
	}

	for _, out := range op.Outputs {
		var result estimate.Cardinality
		if out.Estimator != nil {
			result = out.Estimator(inputs)
		} else {
			if !e.warned[op.ID] {
				e.log.Warn().Uint64("operator", uint64(op.ID)).Str("kind", string(op.Kind)).
					Msg("no cardinality estimator configured, using fallback")
				e.warned[op.ID] = true
			}
			result = e.fallback(op, inputs)
		}
		ctx.SetOutputCardinality(out.Index, result)
	}

	if op.Variant == planmodel.VariantComposite && op.CompositePlan != nil {
		e.Push(op.CompositePlan.Inner)
	}
}

// pushLoop runs the loop-head estimator once per iteration context; the
// post-loop context is filled from the engine's fallback applied to the
// last iteration's outputs (spec §3, §4.3).
func (e *Engine) pushLoop(op *planmodel.Operator, inputs []estimate.Cardinality) {
	loop := e.arena.GetLoop(op.ID, op.Loop.ExpectedIterations)
	current := inputs
	for i, iterCtx := range loop.Iterations {
		iterCtx.InputCardinalities = current
		for _, out := range op.Outputs {
			var result estimate.Cardinality
			if out.Estimator != nil {
				result = out.Estimator(current)
			} else {
				result = e.fallback(op, current)
			}
			iterCtx.SetOutputCardinality(out.Index, result)
		}
		current = iterCtx.OutputCardinalities
		if op.CompositePlan != nil {
			e.Push(op.CompositePlan.Inner)
		}
		_ = i
	}
	loop.PostLoop.InputCardinalities = current
	for _, out := range op.Outputs {
		loop.PostLoop.SetOutputCardinality(out.Index, e.fallback(op, current))
	}
}

// gatherInputs reads the current output cardinality of whatever feeds
// each of op's input slots, defaulting to Unknown for an unconnected
// optional (non-required) slot.
func (e *Engine) gatherInputs(op *planmodel.Operator) []estimate.Cardinality {
	inputs := make([]estimate.Cardinality, len(op.Inputs))
	for i, in := range op.Inputs {
		conn := in.Connection()
		if conn == nil {
			inputs[i] = estimate.Unknown
			continue
		}
		producerCtx := e.arena.Get(conn.FromOp.ID)
		if conn.FromSlot < len(producerCtx.OutputCardinalities) {
			inputs[i] = producerCtx.OutputCardinalities[conn.FromSlot]
		} else {
			inputs[i] = estimate.Unknown
		}
	}
	return inputs
}

// InjectMeasured converts a measured count into an exact
// CardinalityEstimate(m, m, 1.0) and sets it on the producing
// operator's output slot. If the value changed, every operator of plan
// downstream of producer is re-estimated, producers first; producer's
// own estimator is not re-run, so the measured value stays in place
// (spec §4.3). It is idempotent: injecting the same value twice is a
// no-op the second time.
func (e *Engine) InjectMeasured(plan *planmodel.Plan, producer *planmodel.Operator, slot int, measured uint64) {
	ctx := e.arena.Get(producer.ID)
	changed := ctx.SetOutputCardinality(slot, estimate.Exact(measured))
	if !changed {
		return
	}
	downstream := make(map[planmodel.ID]bool)
	planmodel.Downstream(producer, false, func(op *planmodel.Operator) { downstream[op.ID] = true })
	ops := plan.Operators()
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i] != producer && downstream[ops[i].ID] {
			e.estimateOperator(ops[i])
		}
	}
}

// ClearMarks delegates to the arena, called by the driver after a full
// push (spec §4.3).
func (e *Engine) ClearMarks() { e.arena.ClearMarks() }
