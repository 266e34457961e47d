// Package mapping implements C2: plan transformations that rewrite
// elementary-logical subplans into execution-operator alternatives,
// producing the hyperplan of OperatorAlternatives consumed by
// enumeration (C6). Grounded in the teacher's Optimizer's logical-to-
// physical conversion (internal/optimizer/optimizer.go,
// logicalToPhysical/generatePhysicalPlans), generalized from "one
// physical plan per logical plan" to "every registered Mapping that
// matches contributes one alternative."
package mapping

import (
	"fmt"

	"github.com/namyoh/rheem/internal/planmodel"
)

// OperatorPattern matches a single operator node during subplan search.
// Matches inspects only the node's Variant and Kind (never mutating
// it); Capture, if non-empty, records the matched operator under that
// name for the ReplacementFactory to retrieve.
type OperatorPattern struct {
	Kind    planmodel.Kind
	Capture string
}

// Matches reports whether op satisfies this pattern.
func (p OperatorPattern) Matches(op *planmodel.Operator) bool {
	return op.Variant == planmodel.VariantElementaryLogical && op.Kind == p.Kind
}

// SubplanPattern is a linear chain of OperatorPatterns matched starting
// from a candidate root operator and following its single first input.
// Branching subplans are out of scope for this pattern matcher (spec
// non-goal: "multi-operator fusion beyond simple chains").
type SubplanPattern struct {
	Root  OperatorPattern
	Chain []OperatorPattern // each element matches op.Inputs[0]'s producer, in order
}

// Match attempts to match the pattern rooted at op, returning named
// captures on success.
func (sp SubplanPattern) Match(op *planmodel.Operator) (map[string]*planmodel.Operator, bool) {
	captures := make(map[string]*planmodel.Operator)
	if !sp.Root.Matches(op) {
		return nil, false
	}
	if sp.Root.Capture != "" {
		captures[sp.Root.Capture] = op
	}
	cur := op
	for _, step := range sp.Chain {
		if len(cur.Inputs) == 0 {
			return nil, false
		}
		conn := cur.Inputs[0].Connection()
		if conn == nil {
			return nil, false
		}
		cur = conn.FromOp
		if !step.Matches(cur) {
			return nil, false
		}
		if step.Capture != "" {
			captures[step.Capture] = cur
		}
	}
	return captures, true
}

// ReplacementFactory builds one execution-operator replacement for a
// matched subplan. It must not mutate the matched operators; it returns
// a freshly built *planmodel.Operator wired to the same input/output
// arity as the matched root.
type ReplacementFactory func(captures map[string]*planmodel.Operator) (*planmodel.Operator, error)

// PlanTransformation is C2's unit of rewriting: a pattern plus one
// replacement factory bound to a target platform (spec §4.2).
type PlanTransformation struct {
	Name               string
	Pattern            SubplanPattern
	ReplacementFactory ReplacementFactory
	TargetPlatform     string
}

// Mapping is a registry of PlanTransformations, applied together in one
// rewrite epoch (spec §4.2: "Mapping = a set of PlanTransformations
// applied as a unit").
type Mapping struct {
	Name             string
	Transformations  []PlanTransformation
}

// NewMapping builds an empty, named Mapping.
func NewMapping(name string) *Mapping {
	return &Mapping{Name: name}
}

// Add registers a transformation, returning the Mapping for chaining.
func (m *Mapping) Add(t PlanTransformation) *Mapping {
	m.Transformations = append(m.Transformations, t)
	return m
}

// Alternative is one execution-operator candidate for a given
// elementary-logical operator, tagged with the transformation/platform
// that produced it (spec §4.2's "hyperplan": elementary-logical nodes
// fan out into OperatorAlternative nodes).
type Alternative struct {
	Op                 *planmodel.Operator
	TransformationName string
	Platform           string
}

// Hyperplan maps each elementary-logical operator's ID to its ordered,
// deduplicated list of alternatives (insertion order is preserved so
// downstream enumeration has a deterministic tie-break, spec §5).
type Hyperplan struct {
	Alternatives map[planmodel.ID][]Alternative
}

// Apply runs every transformation in m against every elementary-logical
// operator reachable in plan, collecting one Alternative per match, and
// recurses into every composite/loop-head operator's inner plan so its
// body's elementary-logical operators get alternatives too (spec §4.6
// step 5: a loop body is enumerated the same as any other subplan).
// Inner operators have globally unique IDs, so their alternatives merge
// into the same flat Hyperplan without colliding with the outer plan's.
//
// A transformation may match the same root operator more than once via
// different captures only if its pattern is non-deterministic; in
// practice each (root, transformation) pair contributes at most one
// alternative, deduplicated by (platform, transformation name).
func (m *Mapping) Apply(plan *planmodel.Plan) (*Hyperplan, error) {
	hp := &Hyperplan{Alternatives: make(map[planmodel.ID][]Alternative)}
	if err := m.apply(plan, hp); err != nil {
		return nil, err
	}
	return hp, nil
}

func (m *Mapping) apply(plan *planmodel.Plan, hp *Hyperplan) error {
	seen := make(map[planmodel.ID]map[string]bool)

	for _, op := range plan.Operators() {
		switch op.Variant {
		case planmodel.VariantComposite, planmodel.VariantLoopHead:
			if op.CompositePlan != nil && op.CompositePlan.Inner != nil {
				if err := m.apply(op.CompositePlan.Inner, hp); err != nil {
					return err
				}
			}
			continue
		case planmodel.VariantElementaryLogical:
		default:
			continue
		}
		for _, t := range m.Transformations {
			captures, ok := t.Pattern.Match(op)
			if !ok {
				continue
			}
			dedupeKey := t.TargetPlatform + "/" + t.Name
			if seen[op.ID] == nil {
				seen[op.ID] = make(map[string]bool)
			}
			if seen[op.ID][dedupeKey] {
				continue
			}
			replacement, err := t.ReplacementFactory(captures)
			if err != nil {
				return fmt.Errorf("mapping.Apply: transformation %q failed on operator %d: %w", t.Name, op.ID, err)
			}
			replacement.Epoch = plan.Epoch + 1
			seen[op.ID][dedupeKey] = true
			hp.Alternatives[op.ID] = append(hp.Alternatives[op.ID], Alternative{
				Op: replacement, TransformationName: t.Name, Platform: t.TargetPlatform,
			})
		}
	}
	return nil
}

// AlternativesFor returns the alternatives recorded for op, or nil if
// none matched (meaning no registered transformation can execute this
// logical operator at all — an enumeration-time error, spec §5).
func (hp *Hyperplan) AlternativesFor(op *planmodel.Operator) []Alternative {
	return hp.Alternatives[op.ID]
}
