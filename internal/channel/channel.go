// Package channel implements C5: search over channel conversions to
// bridge a producer's emittable ChannelDescriptor to a consumer's
// acceptable one, including cross-platform conversions. Grounded in the
// teacher's executor package's operator-to-operator handoff
// (internal/executor/operator.go, executor.go) generalized from "same
// process, same Go slice" to "possibly different platforms, possibly a
// serialization/network hop." The search itself is a textbook
// best-first/Dijkstra traversal over a small conversion graph; no
// example repo in the retrieval pack exposed a usable shortest-path
// API (the one graph library surfaced, katalvlaran/lvlath, only showed
// a topology-builder API in the retrieved fragment), so this uses the
// standard library's container/heap rather than fabricate an unobserved
// dependency API (see DESIGN.md).
package channel

import (
	"container/heap"
	"fmt"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/platform"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

// Conversion is one registered edge in the channel graph: a way to turn
// a channel matching From into one matching To. CrossPlatform is a label
// only: Find does not read it, and always matches From by both name and
// platform.
type Conversion struct {
	Name           string
	From, To       platform.ChannelDescriptor
	CrossPlatform  bool
	CostEstimate   estimate.Interval // fixed overhead, independent of cardinality
	Build          func(in platform.ChannelInstance) (platform.ChannelInstance, error)
}

// Graph is the registered universe of conversions C5 searches over.
type Graph struct {
	conversions []Conversion
}

// NewGraph builds an empty conversion graph.
func NewGraph() *Graph { return &Graph{} }

// Register adds a conversion edge.
func (g *Graph) Register(c Conversion) { g.conversions = append(g.conversions, c) }

// Junction is the result of a successful search: a chain of conversions
// bridging a producer's output to a consumer's required input shape
// (spec §4.2's "Junction").
type Junction struct {
	Conversions []Conversion
	TotalCost   estimate.Interval
}

// compatible reports whether a channel descriptor already satisfies a
// consumer requirement without any conversion. A broadcast consumer
// input restricts the search to descriptors flagged Reusable, since a
// non-reusable channel can only ever be drained by the one broadcast
// consumer that happens to go first (spec §4.5).
func compatible(have, want platform.ChannelDescriptor) bool {
	if want.Platform != "" && have.Platform != want.Platform {
		return false
	}
	if want.SupportsBroadcast && !have.SupportsBroadcast {
		return false
	}
	if want.SupportsBroadcast && !have.Reusable {
		return false
	}
	return true
}

type searchNode struct {
	desc platform.ChannelDescriptor
	cost estimate.Interval
	path []Conversion
}

type frontier []*searchNode

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	return f[i].cost.Mid() < f[j].cost.Mid()
}
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(*searchNode)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// maxExpansions bounds the search so a misconfigured conversion graph
// (e.g. an accidental cycle of zero-cost conversions) cannot hang
// enumeration (spec §5: enumeration must terminate).
const maxExpansions = 10000

// Find runs a best-first search from `have` to any descriptor
// compatible with `want`, minimizing total conversion cost. Returns a
// rheemerrors NoViablePlan error if no chain of registered conversions
// bridges the two, or a plain error if the search exceeds maxExpansions.
func (g *Graph) Find(have, want platform.ChannelDescriptor) (*Junction, error) {
	if compatible(have, want) {
		return &Junction{}, nil
	}
	start := &searchNode{desc: have, cost: estimate.Zero}
	pq := &frontier{start}
	heap.Init(pq)
	visited := make(map[string]bool)
	expansions := 0

	for pq.Len() > 0 {
		expansions++
		if expansions > maxExpansions {
			return nil, fmt.Errorf("channel.Find: exceeded %d expansions searching for a junction from %s to %s", maxExpansions, have.Name, want.Name)
		}
		node := heap.Pop(pq).(*searchNode)
		key := string(node.desc.Platform) + "/" + node.desc.Name
		if visited[key] {
			continue
		}
		visited[key] = true

		if compatible(node.desc, want) {
			return &Junction{Conversions: node.path, TotalCost: node.cost}, nil
		}

		for _, c := range g.conversions {
			if !descriptorMatches(node.desc, c.From) {
				continue
			}
			next := &searchNode{
				desc: c.To,
				cost: node.cost.Add(c.CostEstimate),
				path: append(append([]Conversion{}, node.path...), c),
			}
			heap.Push(pq, next)
		}
	}
	return nil, rheemerrors.NoViablePlan("channel.Find",
		fmt.Sprintf("no junction from %s (platform %s) to %s (platform %s)", have.Name, have.Platform, want.Name, want.Platform))
}

func descriptorMatches(have, from platform.ChannelDescriptor) bool {
	return have.Name == from.Name && have.Platform == from.Platform
}

// Apply runs a Junction's conversions in order over a concrete channel
// instance, materializing the consumer-compatible instance.
func (j *Junction) Apply(in platform.ChannelInstance) (platform.ChannelInstance, error) {
	cur := in
	for _, c := range j.Conversions {
		var err error
		cur, err = c.Build(cur)
		if err != nil {
			return nil, fmt.Errorf("channel.Junction.Apply: conversion %q failed: %w", c.Name, err)
		}
	}
	return cur, nil
}
