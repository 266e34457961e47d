// Package optctx implements the OptimizationContext arena (spec §3,
// §9): the mutable per-operator sidecar the optimizer and driver
// populate, keyed by the plan graph's stable operator IDs rather than
// back-pointers from Operator itself. This is the one place cardinality
// estimates, load profiles, time/cost estimates, execution counts, and
// "changed since last propagation" marks live.
package optctx

import (
	"sync"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/planmodel"
)

// Context is the per-operator optimization sidecar.
type Context struct {
	InputCardinalities  []estimate.Cardinality
	OutputCardinalities []estimate.Cardinality

	LoadProfile   estimate.LoadProfile
	TimeEstimate  estimate.Interval
	CostEstimate  estimate.Interval
	ExecutionCount int64

	// changed marks this context dirty since the last ClearMarks() call
	// (spec §4.3: "Re-estimation invalidates only marked slots").
	changed bool
}

// Loop owns one OptimizationContext per iteration plus one post-loop
// context, per spec §3: "a loop with n expected iterations has n+1
// contexts."
type Loop struct {
	Iterations []*Context
	PostLoop   *Context
}

// Arena is the operator-ID-keyed store of Contexts. Only the driver is
// expected to mutate it (spec §5: "OptimizationContext is owned by the
// driver"); readers (C3, C4, C6) call Get directly.
type Arena struct {
	mu       sync.RWMutex
	contexts map[planmodel.ID]*Context
	loops    map[planmodel.ID]*Loop
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		contexts: make(map[planmodel.ID]*Context),
		loops:    make(map[planmodel.ID]*Loop),
	}
}

// Get returns the Context for id, creating an empty one on first access.
func (a *Arena) Get(id planmodel.ID) *Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, ok := a.contexts[id]
	if !ok {
		ctx = &Context{}
		a.contexts[id] = ctx
	}
	return ctx
}

// GetLoop returns (creating if absent) the per-iteration context list
// for a loop-head operator, sized to expectedIterations+1.
func (a *Arena) GetLoop(id planmodel.ID, expectedIterations int) *Loop {
	a.mu.Lock()
	defer a.mu.Unlock()
	loop, ok := a.loops[id]
	if ok && len(loop.Iterations) == expectedIterations {
		return loop
	}
	loop = &Loop{
		Iterations: make([]*Context, expectedIterations),
		PostLoop:   &Context{},
	}
	for i := range loop.Iterations {
		loop.Iterations[i] = &Context{}
	}
	a.loops[id] = loop
	return loop
}

// SetOutputCardinality sets output slot `slot`'s cardinality on ctx. It
// marks the context dirty only if the new value differs from the old
// one (null-safe equality, spec §4.3), and reports whether it changed.
func (ctx *Context) SetOutputCardinality(slot int, c estimate.Cardinality) bool {
	for len(ctx.OutputCardinalities) <= slot {
		ctx.OutputCardinalities = append(ctx.OutputCardinalities, estimate.Cardinality{})
	}
	old := ctx.OutputCardinalities[slot]
	if old.Equal(c) {
		return false
	}
	ctx.OutputCardinalities[slot] = c
	ctx.changed = true
	return true
}

// Changed reports whether this context was marked dirty since the last
// ClearMarks call.
func (ctx *Context) Changed() bool { return ctx.changed }

// ClearMarks clears every context's dirty mark across the whole arena,
// called by the driver after each full cardinality push (spec §4.3) so
// subsequent incremental pushes are O(changed-subgraph).
func (a *Arena) ClearMarks() {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ctx := range a.contexts {
		ctx.changed = false
	}
	for _, loop := range a.loops {
		for _, ctx := range loop.Iterations {
			ctx.changed = false
		}
		loop.PostLoop.changed = false
	}
}

// IsTimeEstimatesComplete asserts that every execution operator in ops
// has a time estimate, per spec §4.3's post-push assertion. A missing
// context or a zero-valued TimeEstimate counts as absent.
func (a *Arena) IsTimeEstimatesComplete(ops []*planmodel.Operator) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, op := range ops {
		if op.Variant != planmodel.VariantExecution {
			continue
		}
		ctx, ok := a.contexts[op.ID]
		if !ok || (ctx.TimeEstimate == estimate.Interval{}) {
			return false
		}
	}
	return true
}
