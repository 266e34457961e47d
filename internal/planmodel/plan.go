package planmodel

import (
	"fmt"

	"github.com/namyoh/rheem/internal/rheemerrors"
)

// Plan is the set of operators reachable from declared sinks (spec §3).
type Plan struct {
	Sinks []*Operator
	Epoch uint64

	// ActivePlatforms restricts which backend platforms an execution
	// operator may legally be bound to for this plan to be sane.
	ActivePlatforms map[string]bool
}

// NewPlan builds a plan rooted at the given sinks.
func NewPlan(sinks []*Operator, activePlatforms map[string]bool) *Plan {
	return &Plan{Sinks: sinks, ActivePlatforms: activePlatforms}
}

// Operators returns every operator reachable from the sinks, visiting
// each exactly once, in a stable sink-first (pre-order-of-discovery)
// order: each operator appears before the operators feeding it, so
// callers that need producers first walk the result in reverse.
// Composite operators are not descended into; callers that need
// the full elementary content walk CompositePlan.Inner explicitly.
func (p *Plan) Operators() []*Operator {
	seen := make(map[ID]bool)
	var order []*Operator
	var visit func(op *Operator)
	visit = func(op *Operator) {
		if seen[op.ID] {
			return
		}
		seen[op.ID] = true
		order = append(order, op)
		for _, in := range op.Inputs {
			if c := in.Connection(); c != nil {
				visit(c.FromOp)
			}
		}
	}
	for _, sink := range p.Sinks {
		visit(sink)
	}
	return order
}

// Upstream walks every operator upstream of (and including) start,
// invoking fn once per operator in traversal order. It terminates at
// loop-head boundaries unless descend is true, matching the read-only
// PlanTraversal described in spec §4.1.
func Upstream(start *Operator, descend bool, fn func(*Operator)) {
	seen := make(map[ID]bool)
	var visit func(op *Operator)
	visit = func(op *Operator) {
		if seen[op.ID] {
			return
		}
		seen[op.ID] = true
		fn(op)
		if op.Variant == VariantLoopHead && !descend {
			return
		}
		for _, in := range op.Inputs {
			if c := in.Connection(); c != nil {
				visit(c.FromOp)
			}
		}
	}
	visit(start)
}

// Downstream walks every operator downstream of (and including) start.
func Downstream(start *Operator, descend bool, fn func(*Operator)) {
	seen := make(map[ID]bool)
	var visit func(op *Operator)
	visit = func(op *Operator) {
		if seen[op.ID] {
			return
		}
		seen[op.ID] = true
		fn(op)
		if op.Variant == VariantLoopHead && !descend {
			return
		}
		for _, out := range op.Outputs {
			for _, c := range out.Connections() {
				visit(c.ToOp)
			}
		}
	}
	visit(start)
}

// Sane reports whether the plan satisfies spec §3's invariants:
//   - no dangling required input,
//   - every execution operator's platform is in the active platform set,
//   - every composite is traversable to its elementary content,
//   - no cycle exists among the operators reachable from the sinks.
//
// Loop nesting is not checked: a loop head reachable along several
// paths, or a loop body wired to operators outside it, is not reported.
//
// It returns a *rheemerrors.Error of kind ErrPlanSanity describing the
// first violation found, or nil.
func (p *Plan) Sane() error {
	if len(p.Sinks) == 0 {
		return rheemerrors.PlanSanity("planmodel.Plan.Sane", "plan has no declared sinks")
	}

	var err error
	visited := make(map[ID]bool)
	var visit func(op *Operator) bool
	visit = func(op *Operator) bool {
		if visited[op.ID] {
			return true
		}
		visited[op.ID] = true

		for _, in := range op.Inputs {
			if in.Required && in.Connection() == nil {
				err = rheemerrors.PlanSanity("planmodel.Plan.Sane",
					fmt.Sprintf("operator %d (%s) has a dangling required input at slot %d", op.ID, op.Kind, in.Index))
				return false
			}
		}

		if op.Variant == VariantExecution {
			plat := op.Platform()
			if p.ActivePlatforms != nil && !p.ActivePlatforms[string(plat)] {
				err = rheemerrors.PlanSanity("planmodel.Plan.Sane",
					fmt.Sprintf("operator %d (%s) is bound to inactive platform %q", op.ID, op.Kind, plat))
				return false
			}
		}

		if op.Variant == VariantComposite || op.Variant == VariantLoopHead {
			if op.CompositePlan == nil || op.CompositePlan.Inner == nil {
				err = rheemerrors.PlanSanity("planmodel.Plan.Sane",
					fmt.Sprintf("composite operator %d (%s) has no traversable inner plan", op.ID, op.Kind))
				return false
			}
			if innerErr := op.CompositePlan.Inner.Sane(); innerErr != nil {
				err = innerErr
				return false
			}
		}

		for _, in := range op.Inputs {
			if c := in.Connection(); c != nil {
				if !visit(c.FromOp) {
					return false
				}
			}
		}
		return true
	}

	for _, sink := range p.Sinks {
		if !visit(sink) {
			return err
		}
	}
	if cyc := p.findCycleOutsideLoops(); cyc != nil {
		return rheemerrors.PlanSanity("planmodel.Plan.Sane",
			fmt.Sprintf("cycle detected outside a loop boundary at operator %d", cyc.ID))
	}
	return nil
}

// findCycleOutsideLoops detects a cycle using a DFS coloring scheme.
// Loop heads get no special treatment: loop bodies live in nested Plans
// rather than as back-edges, so any cycle in this plan's own graph is
// reported.
func (p *Plan) findCycleOutsideLoops() *Operator {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ID]int)
	var found *Operator
	var visit func(op *Operator) bool
	visit = func(op *Operator) bool {
		color[op.ID] = gray
		for _, in := range op.Inputs {
			c := in.Connection()
			if c == nil {
				continue
			}
			switch color[c.FromOp.ID] {
			case gray:
				found = op
				return true
			case white:
				if visit(c.FromOp) {
					return true
				}
			}
		}
		color[op.ID] = black
		return false
	}
	for _, sink := range p.Sinks {
		if color[sink.ID] == white {
			if visit(sink) {
				return found
			}
		}
	}
	return nil
}

// Prune returns a new Plan containing only operators reachable from the
// sinks in p (spec §4.1: "drop operators not reachable from a sink").
// Since Operators() already computes exactly that reachable set, Prune
// is a structural no-op on p itself (the set of Sinks defines
// reachability) and exists to document intent at call sites after a
// rewrite epoch that may have orphaned nodes.
func (p *Plan) Prune() *Plan {
	return NewPlan(p.Sinks, p.ActivePlatforms)
}
