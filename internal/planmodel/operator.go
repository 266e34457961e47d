// Package planmodel implements C1, the plan graph: operators, slots,
// connections, composite/loop subplans, and the structural traversal
// and sanity checks the rest of the optimizer builds on.
//
// Following spec §9's re-architecting notes, logical operator variants
// are a closed sum type (Variant) rather than a class hierarchy,
// and composite/loop operators embed a nested Plan rather than
// inheriting from it. Plan, Operator and Slot objects are immutable in
// structure once built (§3 "Lifecycles"); mutable optimizer state lives
// in the sidecar Arena (package optctx), never on these types.
package planmodel

import (
	"fmt"
	"sync/atomic"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/platform"
)

// ID stably identifies an operator within a Plan's arena. IDs are
// assigned once at construction and never reused, so they are safe keys
// into any per-operator sidecar (spec §9: "arena keyed by operator
// identity ... never back-pointer").
type ID uint64

var idCounter uint64

// NextID mints a fresh, process-wide unique operator ID. Mappings
// (C2) call this for every replacement node they build.
func NextID() ID {
	return ID(atomic.AddUint64(&idCounter, 1))
}

// Variant is the closed set of operator kinds (spec §3, §9).
type Variant int

const (
	VariantElementaryLogical Variant = iota
	VariantExecution
	VariantComposite
	VariantLoopHead
)

func (v Variant) String() string {
	switch v {
	case VariantElementaryLogical:
		return "elementary-logical"
	case VariantExecution:
		return "execution"
	case VariantComposite:
		return "composite"
	case VariantLoopHead:
		return "loop-head"
	default:
		return "unknown"
	}
}

// Kind names the logical operation an elementary/execution operator
// performs. It is intentionally an open string (not an enum) because
// mappings (C2) may register new execution operator classes without
// touching this package; platform contracts carry the real semantics.
type Kind string

const (
	KindSource   Kind = "source"
	KindSink     Kind = "sink"
	KindMap      Kind = "map"
	KindFilter   Kind = "filter"
	KindFlatMap  Kind = "flatMap"
	KindJoin     Kind = "join"
	KindGroupBy  Kind = "groupBy"
	KindReduceBy Kind = "reduceBy"
)

// CardinalityEstimator computes an output slot's cardinality from its
// operator's input cardinalities (spec §4.3). It is a pure function
// captured at operator-construction time (structurally immutable).
type CardinalityEstimator func(inputs []estimate.Cardinality) estimate.Cardinality

// InputSlot is an indexed, typed input. At most one Connection may feed
// it (spec §3); Broadcast marks it as accepting a reusable, shared
// producer output instead of a private stream.
type InputSlot struct {
	Index     int
	DataType  string
	Required  bool
	Broadcast bool

	conn *Connection
}

// Connection returns the incoming connection, or nil if unconnected.
func (s *InputSlot) Connection() *Connection { return s.conn }

// OutputSlot is an indexed, typed output. It may feed zero or more
// InputSlots (broadcast fan-out).
type OutputSlot struct {
	Index     int
	DataType  string
	Estimator CardinalityEstimator

	conns []*Connection
}

// Connections returns every outgoing connection from this output.
func (s *OutputSlot) Connections() []*Connection { return s.conns }

// Connection is a directed edge from one operator's output slot to
// another operator's input slot.
type Connection struct {
	FromOp   *Operator
	FromSlot int
	ToOp     *Operator
	ToSlot   int
}

// LoopSpec distinguishes a loop head: its expected iteration count
// (used to size the per-iteration OptimizationContext list, spec §3)
// and a convergence predicate evaluated once per iteration at runtime.
type LoopSpec struct {
	ExpectedIterations int
	Convergence        func(iteration int, state interface{}) bool
}

// Composite embeds a nested plan and maps the composite operator's
// outer slots to slots inside that plan, per spec §4.1's
// "traceOutput(outer) → inner".
type Composite struct {
	Inner *Plan

	// outerInputToInner maps an outer input slot index to the inner
	// operator/slot it feeds.
	outerInputToInner map[int]SlotRef
	// outerOutputToInner maps an outer output slot index to the inner
	// operator/slot that produces it.
	outerOutputToInner map[int]SlotRef
}

// SlotRef names one slot (input or output, by index) on one operator.
type SlotRef struct {
	Op   *Operator
	Slot int
}

// NewComposite builds a Composite wrapping inner, with the given outer
// slot traces. Either map may be nil if the composite has no inputs or
// no outputs.
func NewComposite(inner *Plan, outerInputToInner, outerOutputToInner map[int]SlotRef) *Composite {
	if outerInputToInner == nil {
		outerInputToInner = map[int]SlotRef{}
	}
	if outerOutputToInner == nil {
		outerOutputToInner = map[int]SlotRef{}
	}
	return &Composite{Inner: inner, outerInputToInner: outerInputToInner, outerOutputToInner: outerOutputToInner}
}

// TraceOutput resolves an outer output slot index to the inner
// operator/slot that actually produces it.
func (c *Composite) TraceOutput(outerSlot int) (SlotRef, bool) {
	ref, ok := c.outerOutputToInner[outerSlot]
	return ref, ok
}

// TraceInput resolves an outer input slot index to the inner
// operator/slot that consumes it.
func (c *Composite) TraceInput(outerSlot int) (SlotRef, bool) {
	ref, ok := c.outerInputToInner[outerSlot]
	return ref, ok
}

// Operator is a plan graph node (spec §3).
type Operator struct {
	ID      ID
	Variant Variant
	Kind    Kind
	// Epoch is the rewrite round (C2) in which this operator was
	// introduced; elementary logical operators from the user's original
	// plan carry Epoch 0.
	Epoch uint64

	Inputs  []*InputSlot
	Outputs []*OutputSlot

	// Exec is non-nil only for VariantExecution operators: the backend
	// contract implementation (spec §6) this node is bound to.
	Exec platform.ExecutionOperator

	// BuiltinLoad is the operator's own load profile estimator (the
	// "built-in" layer of spec §4.4's three-layer composition), nil if
	// this operator relies entirely on platform/user-configured layers.
	BuiltinLoad estimate.LoadProfileEstimator

	// CompositePlan is non-nil only for VariantComposite/VariantLoopHead.
	CompositePlan *Composite

	// Loop is non-nil only for VariantLoopHead.
	Loop *LoopSpec
}

// NewOperator builds an elementary logical or execution operator node
// with nIn input slots and nOut output slots, all initially unconnected.
func NewOperator(kind Kind, variant Variant, nIn, nOut int) *Operator {
	op := &Operator{ID: NextID(), Variant: variant, Kind: kind}
	op.Inputs = make([]*InputSlot, nIn)
	for i := range op.Inputs {
		op.Inputs[i] = &InputSlot{Index: i, Required: true}
	}
	op.Outputs = make([]*OutputSlot, nOut)
	for i := range op.Outputs {
		op.Outputs[i] = &OutputSlot{Index: i}
	}
	return op
}

// NewCompositeOperator builds a composite/loop operator embedding inner.
func NewCompositeOperator(kind Kind, variant Variant, nIn, nOut int, composite *Composite, loop *LoopSpec) *Operator {
	op := NewOperator(kind, variant, nIn, nOut)
	op.CompositePlan = composite
	op.Loop = loop
	return op
}

// Platform returns the execution platform this operator is bound to, or
// "" if it isn't an execution operator.
func (op *Operator) Platform() platform.ID {
	if op.Exec == nil {
		return ""
	}
	return op.Exec.Platform()
}

// Connect wires from's output slot outSlot to to's input slot inSlot.
// It returns a *rheemerrors-flavoured error via fmt.Errorf if either
// slot index is out of range or the input slot is already connected.
func Connect(from *Operator, outSlot int, to *Operator, inSlot int) error {
	if outSlot < 0 || outSlot >= len(from.Outputs) {
		return fmt.Errorf("planmodel.Connect: output slot %d out of range on operator %d", outSlot, from.ID)
	}
	if inSlot < 0 || inSlot >= len(to.Inputs) {
		return fmt.Errorf("planmodel.Connect: input slot %d out of range on operator %d", inSlot, to.ID)
	}
	if to.Inputs[inSlot].conn != nil {
		return fmt.Errorf("planmodel.Connect: input slot %d on operator %d already connected", inSlot, to.ID)
	}
	conn := &Connection{FromOp: from, FromSlot: outSlot, ToOp: to, ToSlot: inSlot}
	to.Inputs[inSlot].conn = conn
	from.Outputs[outSlot].conns = append(from.Outputs[outSlot].conns, conn)
	return nil
}
