// Package enumerator implements C6: turning a hyperplan (one set of
// execution-operator Alternatives per elementary-logical operator, from
// package mapping) into a small set of complete, costed
// PlanImplementations, picking the cheapest by a bottom-up dynamic
// program with pruning. Grounded in the teacher's
// Optimizer.generatePhysicalPlans/selectBestPlan
// (internal/optimizer/optimizer.go), generalized from "exactly one
// physical plan" to "enumerate every topologically-feasible combination
// of alternatives, prune aggressively, keep the best."
package enumerator

import (
	"fmt"
	"sort"

	"github.com/namyoh/rheem/internal/channel"
	"github.com/namyoh/rheem/internal/cost"
	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/optctx"
	"github.com/namyoh/rheem/internal/planmodel"
	"github.com/namyoh/rheem/internal/platform"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

// PlanImplementation is one complete, costed assignment of an execution
// operator (and platform) to every elementary-logical operator in a
// plan, plus the channel junctions bridging adjacent operators on
// different platforms (spec §4.2, §5).
type PlanImplementation struct {
	// ExecOps maps each elementary-logical operator's ID to the
	// execution operator chosen for it, including operators nested
	// inside a loop body (their IDs are distinct from, and merged
	// alongside, the outer plan's).
	ExecOps map[planmodel.ID]*planmodel.Operator
	// Junctions maps a connection (producer ID, output slot) to the
	// channel.Junction bridging it to its consumer, nil if no
	// conversion was required.
	Junctions map[junctionKey]*channel.Junction
	// TotalTime/TotalCost are this implementation's aggregate
	// estimates, composed per spec §4.4's compositionality rule.
	TotalTime estimate.Interval
	TotalCost estimate.Interval
	// InvolvedPlatforms is the distinct set of platforms this
	// implementation touches, used by the time→cost conversion's
	// per-platform fixed cost (spec §4.4).
	InvolvedPlatforms map[string]bool
}

type junctionKey struct {
	Producer planmodel.ID
	Slot     int
}

// Options tunes the enumeration's pruning. Top-K is the only pruning
// strategy implemented; there is no random-sampling or latent pruning.
type Options struct {
	// TopK bounds how many candidate states are kept per operator after
	// costing a node's alternatives combined with its predecessors'
	// surviving states, before the result feeds further downstream
	// combination (spec §4.6 step 4). TopK <= 0 means 1 (pure greedy:
	// only the single cheapest state per operator survives).
	TopK int
}

// Enumerator runs C6 against one Arena/cost Model pair.
type Enumerator struct {
	arena *optctx.Arena
	model *cost.Model
	graph *channel.Graph
	opts  Options

	// currentHyperplan is the mapping-produced alternative set for the
	// rewrite epoch currently being enumerated; installed by SetHyperplan.
	currentHyperplan *mapping.Hyperplan
}

// New builds an Enumerator.
func New(arena *optctx.Arena, model *cost.Model, graph *channel.Graph, opts Options) *Enumerator {
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	return &Enumerator{arena: arena, model: model, graph: graph, opts: opts}
}

// state is one surviving bottom-up candidate rooted at some operator:
// the alternative chosen for that operator (nil for a loop-head or
// composite operator, which has no execution-operator alternative of
// its own) concatenated with a choice of predecessor states and the
// junctions bridging them (spec §4.6 step 3: "concatenate a child
// combination with each of the node's alternatives, adding the
// junction cost at the seam").
//
// Every cost contribution is recorded once, keyed by the unit that
// produced it (an operator's own local cost, a connection's junction
// cost, or a loop's aggregate body cost), in ownTime. Because keys are
// globally unique and merging is a map union rather than a running sum,
// a state reachable from the same ancestor via two different paths
// (e.g. a join's two inputs sharing an upstream source) is costed
// exactly once rather than double-counted.
type state struct {
	alt       *mapping.Alternative
	platforms map[string]bool
	execOps   map[planmodel.ID]*planmodel.Operator
	junctions map[junctionKey]*channel.Junction
	ownTime   map[string]estimate.Interval
}

func emptyState() *state {
	return &state{
		platforms: make(map[string]bool),
		execOps:   make(map[planmodel.ID]*planmodel.Operator),
		junctions: make(map[junctionKey]*channel.Junction),
		ownTime:   make(map[string]estimate.Interval),
	}
}

// mergeStateInto unions other's contributions into s and returns s.
func mergeStateInto(s, other *state) *state {
	for k := range other.platforms {
		s.platforms[k] = true
	}
	for k, v := range other.execOps {
		s.execOps[k] = v
	}
	for k, v := range other.junctions {
		s.junctions[k] = v
	}
	for k, v := range other.ownTime {
		s.ownTime[k] = v
	}
	return s
}

func (s *state) totalTime() estimate.Interval {
	total := estimate.Zero
	for _, v := range s.ownTime {
		total = total.Add(v)
	}
	return total
}

func (en *Enumerator) rankCost(s *state) estimate.Interval {
	return en.model.EstimateCost(s.totalTime(), len(s.platforms))
}

func opTimeKey(id planmodel.ID) string        { return fmt.Sprintf("op:%d", id) }
func loopTimeKey(id planmodel.ID) string      { return fmt.Sprintf("loop:%d", id) }
func junctionTimeKey(k junctionKey) string    { return fmt.Sprintf("junction:%d:%d", k.Producer, k.Slot) }

// Enumerate runs the bottom-up dynamic program of spec §4.6: walk the
// plan source-to-sink, and for every elementary-logical operator
// concatenate each of its hyperplan alternatives with every surviving
// combination of its predecessors' states, pricing the channel junction
// at each seam so that bridge cost can steer which alternative (and
// platform) wins rather than being tallied only after the fact. Loop
// heads recurse into their body once (scaled by the expected iteration
// count) and composite operators recurse once, unscaled. The top
// Options.TopK cheapest states survive per operator. It returns
// ErrNoViablePlan-wrapped if any elementary-logical operator has zero
// alternatives, or if no registered channel conversion can bridge a
// required connection.
func (en *Enumerator) Enumerate(plan *planmodel.Plan) (*PlanImplementation, error) {
	states, err := en.enumerateStates(plan)
	if err != nil {
		return nil, err
	}

	sinkLists := make([][]*state, len(plan.Sinks))
	for i, sink := range plan.Sinks {
		s, ok := states[sink.ID]
		if !ok || len(s) == 0 {
			return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
				fmt.Sprintf("no surviving implementation for sink operator %d", sink.ID))
		}
		sinkLists[i] = s
	}

	var best *state
	for _, combo := range cartesianStates(sinkLists) {
		merged := emptyState()
		for _, s := range combo {
			mergeStateInto(merged, s)
		}
		if best == nil || en.model.Compare(en.rankCost(merged), en.rankCost(best)) < 0 {
			best = merged
		}
	}

	impl := &PlanImplementation{
		ExecOps:           best.execOps,
		Junctions:         best.junctions,
		InvolvedPlatforms: best.platforms,
		TotalTime:         best.totalTime(),
	}
	impl.TotalCost = en.model.EstimateCost(impl.TotalTime, len(impl.InvolvedPlatforms))
	return impl, nil
}

// enumerateStates runs the DP described on Enumerate over plan's
// operators, source-to-sink (plan.Operators() returns sink-first order,
// so it is walked in reverse), and returns the surviving top-K states
// keyed by operator ID.
func (en *Enumerator) enumerateStates(plan *planmodel.Plan) (map[planmodel.ID][]*state, error) {
	ops := plan.Operators()
	forward := make([]*planmodel.Operator, len(ops))
	for i, op := range ops {
		forward[len(ops)-1-i] = op
	}

	states := make(map[planmodel.ID][]*state)
	for _, op := range forward {
		var s []*state
		var err error
		switch op.Variant {
		case planmodel.VariantElementaryLogical:
			s, err = en.statesForElementary(op, states)
		case planmodel.VariantLoopHead, planmodel.VariantComposite:
			s, err = en.statesForSubplan(op, states)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		states[op.ID] = en.prune(s)
	}
	return states, nil
}

// prune sorts by ranking cost and keeps the cheapest Options.TopK.
func (en *Enumerator) prune(states []*state) []*state {
	sort.SliceStable(states, func(i, j int) bool {
		return en.model.Compare(en.rankCost(states[i]), en.rankCost(states[j])) < 0
	})
	if len(states) > en.opts.TopK {
		states = states[:en.opts.TopK]
	}
	return states
}

// statesForElementary builds every surviving (alternative × predecessor
// combination) state for an elementary-logical operator, pricing the
// junction bridging each input connection to its chosen producer state
// (spec §4.6 steps 2-3).
func (en *Enumerator) statesForElementary(op *planmodel.Operator, states map[planmodel.ID][]*state) ([]*state, error) {
	alts := en.hyperplanFor(op)
	if len(alts) == 0 {
		return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
			fmt.Sprintf("no execution-operator alternative for operator %d (kind %s)", op.ID, op.Kind))
	}

	edgeLists, err := en.predecessorEdges(op, states)
	if err != nil {
		return nil, err
	}
	combos := cartesianEdges(edgeLists)

	ctx := en.arena.Get(op.ID)
	var out []*state
	for _, alt := range alts {
		alt := alt
		key := cost.Key{Platform: alt.Platform, OperatorKey: string(op.Kind)}
		lp := en.model.EstimateLoadProfile(alt.Op, key, ctx.InputCardinalities, ctx.OutputCardinalities, map[string]float64{})
		localTime := en.model.EstimateTime(alt.Platform, lp)

		for _, combo := range combos {
			s := emptyState()
			for slot, edge := range combo {
				var err error
				s, err = en.mergeEdge(s, edge, &alt, slot)
				if err != nil {
					return nil, err
				}
			}
			s.alt = &alt
			s.platforms[alt.Platform] = true
			s.execOps[op.ID] = alt.Op
			s.ownTime[opTimeKey(op.ID)] = localTime
			out = append(out, s)
		}
	}
	return out, nil
}

// statesForSubplan handles a composite or loop-head operator: its body
// is enumerated once against its own (merged-in) hyperplan alternatives
// and arena cardinalities, and the resulting aggregate cost is folded
// into the outer state as a single contribution — scaled by the
// expected iteration count for a loop, taken as-is for a plain
// composite (spec §4.6 step 5).
//
// The cardinality engine's pushLoop (package cardinality) only retains
// the last iteration's cardinalities for operators inside a loop body,
// so enumerating the body once and scaling its cost is consistent with
// the cardinalities actually available in the arena, rather than an
// independent per-iteration assignment this engine cannot currently
// estimate.
func (en *Enumerator) statesForSubplan(op *planmodel.Operator, states map[planmodel.ID][]*state) ([]*state, error) {
	if op.CompositePlan == nil || op.CompositePlan.Inner == nil {
		return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
			fmt.Sprintf("composite operator %d (%s) has no traversable inner plan", op.ID, op.Kind))
	}

	iterations := 1
	if op.Variant == planmodel.VariantLoopHead {
		if op.Loop == nil {
			return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
				fmt.Sprintf("loop-head operator %d has no loop spec", op.ID))
		}
		iterations = op.Loop.ExpectedIterations
		if iterations < 1 {
			iterations = 1
		}
	}

	innerImpl, err := en.Enumerate(op.CompositePlan.Inner)
	if err != nil {
		return nil, fmt.Errorf("enumerator.Enumerate: operator %d body: %w", op.ID, err)
	}

	edgeLists, err := en.predecessorEdges(op, states)
	if err != nil {
		return nil, err
	}
	combos := cartesianEdges(edgeLists)

	var out []*state
	for _, combo := range combos {
		s := emptyState()
		for slot, edge := range combo {
			s, err = en.mergeEdge(s, edge, nil, slot)
			if err != nil {
				return nil, err
			}
		}
		for p := range innerImpl.InvolvedPlatforms {
			s.platforms[p] = true
		}
		for id, execOp := range innerImpl.ExecOps {
			s.execOps[id] = execOp
		}
		for jk, j := range innerImpl.Junctions {
			s.junctions[jk] = j
		}
		s.ownTime[loopTimeKey(op.ID)] = innerImpl.TotalTime.Scale(float64(iterations))
		out = append(out, s)
	}
	return out, nil
}

type predEdge struct {
	conn  *planmodel.Connection
	state *state // nil if the slot is unconnected
}

// predecessorEdges resolves, for each of op's input slots, the
// surviving candidate states of whatever feeds it (a single
// no-producer placeholder if the slot is unconnected).
func (en *Enumerator) predecessorEdges(op *planmodel.Operator, states map[planmodel.ID][]*state) ([][]predEdge, error) {
	lists := make([][]predEdge, len(op.Inputs))
	for i, in := range op.Inputs {
		conn := in.Connection()
		if conn == nil {
			lists[i] = []predEdge{{}}
			continue
		}
		producerStates, ok := states[conn.FromOp.ID]
		if !ok || len(producerStates) == 0 {
			return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
				fmt.Sprintf("operator %d: no surviving implementation for producer %d", op.ID, conn.FromOp.ID))
		}
		edges := make([]predEdge, len(producerStates))
		for j, ps := range producerStates {
			edges[j] = predEdge{conn: conn, state: ps}
		}
		lists[i] = edges
	}
	return lists, nil
}

// mergeEdge merges one resolved predecessor edge into the accumulating
// state s, pricing a channel junction between the producer's chosen
// alternative and consumerAlt's required input shape at slot
// consumerInSlot (spec §4.2, §4.6 step 3). Either end may have no
// execution-operator alternative of its own (a loop-head/composite
// boundary); such a seam is assumed channel-compatible without a
// junction search, since there is no ExecutionOperator to query a
// channel descriptor from.
func (en *Enumerator) mergeEdge(s *state, edge predEdge, consumerAlt *mapping.Alternative, consumerInSlot int) (*state, error) {
	if edge.state == nil {
		return s, nil
	}
	mergeStateInto(s, edge.state)

	if edge.state.alt == nil || consumerAlt == nil {
		return s, nil
	}
	producerExec := edge.state.alt.Op.Exec
	consumerExec := consumerAlt.Op.Exec
	if producerExec == nil || consumerExec == nil {
		return s, nil
	}

	haveDesc := producerExec.OutputChannelDescriptor(edge.conn.FromSlot)
	wantDescs := consumerExec.SupportedInputChannels(consumerInSlot)
	junction, err := en.bestJunction(haveDesc, wantDescs)
	if err != nil {
		return nil, rheemerrors.NoViablePlan("enumerator.Enumerate",
			fmt.Sprintf("operator %d -> %d: %v", edge.conn.FromOp.ID, edge.conn.ToOp.ID, err))
	}
	if junction != nil && len(junction.Conversions) > 0 {
		jk := junctionKey{Producer: edge.conn.FromOp.ID, Slot: edge.conn.FromSlot}
		s.junctions[jk] = junction
		s.ownTime[junctionTimeKey(jk)] = junction.TotalCost
	}
	return s, nil
}

func (en *Enumerator) bestJunction(have platform.ChannelDescriptor, wants []platform.ChannelDescriptor) (*channel.Junction, error) {
	var best *channel.Junction
	for _, want := range wants {
		j, err := en.graph.Find(have, want)
		if err != nil {
			continue
		}
		if best == nil || j.TotalCost.Mid() < best.TotalCost.Mid() {
			best = j
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no compatible channel among %d candidate shapes", len(wants))
	}
	return best, nil
}

// cartesianEdges returns every combination choosing exactly one edge per
// input slot (one entry per element of lists).
func cartesianEdges(lists [][]predEdge) [][]predEdge {
	result := [][]predEdge{{}}
	for _, list := range lists {
		var next [][]predEdge
		for _, prefix := range result {
			for _, edge := range list {
				combo := make([]predEdge, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = edge
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

// cartesianStates returns every combination choosing exactly one state
// per sink (used to combine a multi-sink plan's independently-enumerated
// sinks into one overall PlanImplementation).
func cartesianStates(lists [][]*state) [][]*state {
	result := [][]*state{{}}
	for _, list := range lists {
		var next [][]*state
		for _, prefix := range result {
			for _, s := range list {
				combo := make([]*state, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = s
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

func (en *Enumerator) hyperplanFor(op *planmodel.Operator) []mapping.Alternative {
	if en.currentHyperplan == nil {
		return nil
	}
	return en.currentHyperplan.AlternativesFor(op)
}

// SetHyperplan installs the mapping-produced hyperplan this Enumerator
// reads alternatives from; called once per rewrite epoch by the driver.
func (en *Enumerator) SetHyperplan(hp *mapping.Hyperplan) { en.currentHyperplan = hp }
