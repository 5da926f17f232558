// Package graph holds the node/edge topology of a pipeline. Every input slot
// has at most one upstream output slot; outputs may feed many inputs.
//
// A Graph is not safe for concurrent modification. Lookups are safe once the
// graph is no longer edited, which is how the pipeline runner uses it.
package graph

import (
	"fmt"

	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Edge connects an output slot to an input slot.
type Edge struct {
	From *slot.DataSlot
	To   *slot.DataSlot
}

// Graph is a directed acyclic graph of nodes.
type Graph struct {
	types   node.TypeChecker
	nodes   map[string]*node.Node
	order   []string
	edges   []Edge
	sources map[*slot.DataSlot]*slot.DataSlot
}

// New creates an empty graph. types supplies assignability for connections
// and type inheritance; nil accepts every connection.
func New(types node.TypeChecker) *Graph {
	return &Graph{
		types:   types,
		nodes:   make(map[string]*node.Node),
		sources: make(map[*slot.DataSlot]*slot.DataSlot),
	}
}

// AddNode adds a node and starts observing its slot changes.
func (g *Graph) AddNode(n *node.Node) error {
	if _, exists := g.nodes[n.ID()]; exists {
		return fmt.Errorf("node %q is already part of the graph", n.ID())
	}
	g.nodes[n.ID()] = n
	g.order = append(g.order, n.ID())
	n.AddListener(g)
	n.UpdateSlotInheritance(g, g.types)
	return nil
}

// RemoveNode removes a node and all of its edges.
func (g *Graph) RemoveNode(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	var affected []*node.Node
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.From.Owner() == id || e.To.Owner() == id {
			delete(g.sources, e.To)
			if e.To.Owner() != id {
				affected = append(affected, g.nodes[e.To.Owner()])
			}
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
	delete(g.nodes, id)
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
	n.RemoveListener(g)
	for _, a := range affected {
		a.UpdateSlotInheritance(g, g.types)
	}
}

// Node returns the node with the given identifier.
func (g *Graph) Node(id string) (*node.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*node.Node {
	result := make([]*node.Node, 0, len(g.order))
	for _, id := range g.order {
		result = append(result, g.nodes[id])
	}
	return result
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Connect adds an edge from an output slot to an input slot and updates the
// inherited types of the target node.
func (g *Graph) Connect(from, to *slot.DataSlot) error {
	fromNode, toNode := g.NodeOf(from), g.NodeOf(to)
	if fromNode == nil || toNode == nil {
		return fmt.Errorf("both slots must belong to nodes of the graph")
	}
	if !from.IsOutput() {
		return slotErrors.SlotError(slotErrors.ErrWrongSlotDirection, fromNode.Name(), from.Name(), "edge source must be an output slot")
	}
	if !to.IsInput() {
		return slotErrors.SlotError(slotErrors.ErrWrongSlotDirection, toNode.Name(), to.Name(), "edge target must be an input slot")
	}
	if existing, ok := g.sources[to]; ok {
		if existing == from {
			return nil
		}
		return slotErrors.SlotError(slotErrors.ErrSlotExists, toNode.Name(), to.Name(), "input slot is already connected")
	}
	if g.types != nil && !g.types.IsAssignable(from.AcceptedType(), to.AcceptedType()) {
		return slotErrors.SlotError(slotErrors.ErrTypeMismatch, toNode.Name(), to.Name(),
			fmt.Sprintf("cannot receive %q from %s/%s", from.AcceptedType(), fromNode.Name(), from.Name()))
	}
	if fromNode == toNode || g.reachable(toNode, fromNode) {
		return fmt.Errorf("%w: connecting %s/%s to %s/%s", slotErrors.ErrCyclicGraph, fromNode.Name(), from.Name(), toNode.Name(), to.Name())
	}

	g.edges = append(g.edges, Edge{From: from, To: to})
	g.sources[to] = from
	toNode.UpdateSlotInheritance(g, g.types)
	return nil
}

// ConnectByName connects slots addressed as node identifier and slot name.
func (g *Graph) ConnectByName(fromNode, fromSlot, toNode, toSlot string) error {
	src, ok := g.nodes[fromNode]
	if !ok {
		return fmt.Errorf("unknown node %q", fromNode)
	}
	dst, ok := g.nodes[toNode]
	if !ok {
		return fmt.Errorf("unknown node %q", toNode)
	}
	out, err := src.OutputSlot(fromSlot)
	if err != nil {
		return err
	}
	in, err := dst.InputSlot(toSlot)
	if err != nil {
		return err
	}
	return g.Connect(out, in)
}

// Disconnect removes the edge into the given input slot, if any, and updates
// the inherited types of its node.
func (g *Graph) Disconnect(to *slot.DataSlot) {
	if _, ok := g.sources[to]; !ok {
		return
	}
	g.removeEdges(func(e Edge) bool { return e.To == to })
	if n := g.NodeOf(to); n != nil {
		n.UpdateSlotInheritance(g, g.types)
	}
}

func (g *Graph) removeEdges(match func(Edge) bool) {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if match(e) {
			delete(g.sources, e.To)
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept
}

// SourceOutputSlot implements node.GraphHandle.
func (g *Graph) SourceOutputSlot(input *slot.DataSlot) *slot.DataSlot {
	return g.sources[input]
}

// DownstreamInputSlots implements node.GraphHandle.
func (g *Graph) DownstreamInputSlots(output *slot.DataSlot) []*slot.DataSlot {
	var result []*slot.DataSlot
	for _, e := range g.edges {
		if e.From == output {
			result = append(result, e.To)
		}
	}
	return result
}

// NodeOf implements node.GraphHandle.
func (g *Graph) NodeOf(s *slot.DataSlot) *node.Node {
	if s == nil {
		return nil
	}
	n, ok := g.nodes[s.Owner()]
	if !ok || !n.Owns(s) {
		return nil
	}
	return n
}

// OpenInputSlots returns the input slots of n that have no incoming edge.
func (g *Graph) OpenInputSlots(n *node.Node) []*slot.DataSlot {
	var result []*slot.DataSlot
	for _, in := range n.InputSlots() {
		if _, ok := g.sources[in]; !ok {
			result = append(result, in)
		}
	}
	return result
}

// Predecessors returns the distinct nodes feeding n, in edge order.
func (g *Graph) Predecessors(n *node.Node) []*node.Node {
	var result []*node.Node
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.To.Owner() != n.ID() || seen[e.From.Owner()] {
			continue
		}
		seen[e.From.Owner()] = true
		result = append(result, g.nodes[e.From.Owner()])
	}
	return result
}

// Successors returns the distinct nodes fed by n, in edge order.
func (g *Graph) Successors(n *node.Node) []*node.Node {
	var result []*node.Node
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.From.Owner() != n.ID() || seen[e.To.Owner()] {
			continue
		}
		seen[e.To.Owner()] = true
		result = append(result, g.nodes[e.To.Owner()])
	}
	return result
}

func (g *Graph) reachable(from, to *node.Node) bool {
	visited := make(map[string]bool)
	stack := []*node.Node{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == to {
			return true
		}
		if visited[current.ID()] {
			continue
		}
		visited[current.ID()] = true
		stack = append(stack, g.Successors(current)...)
	}
	return false
}

// TopologicalLevels groups nodes so that every node only depends on nodes of
// earlier levels. Nodes keep insertion order within a level.
func (g *Graph) TopologicalLevels() ([][]*node.Node, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.Predecessors(g.nodes[id]))
	}

	var levels [][]*node.Node
	done := 0
	for done < len(g.order) {
		var level []*node.Node
		for _, id := range g.order {
			if inDegree[id] == 0 {
				level = append(level, g.nodes[id])
			}
		}
		if len(level) == 0 {
			return nil, slotErrors.ErrCyclicGraph
		}
		for _, n := range level {
			inDegree[n.ID()] = -1
			for _, succ := range g.Successors(n) {
				inDegree[succ.ID()]--
			}
		}
		done += len(level)
		levels = append(levels, level)
	}
	return levels, nil
}

// NodeChanged implements node.Listener. Edges of slots that no longer exist
// are dropped and inherited types are recomputed.
func (g *Graph) NodeChanged(n *node.Node, e node.Event) {
	if e != node.SlotsChanged {
		return
	}
	var affected []*node.Node
	g.removeEdges(func(edge Edge) bool {
		stale := (edge.From.Owner() == n.ID() && !n.Owns(edge.From)) ||
			(edge.To.Owner() == n.ID() && !n.Owns(edge.To))
		if stale && edge.To.Owner() != n.ID() {
			affected = append(affected, g.nodes[edge.To.Owner()])
		}
		return stale
	})
	n.UpdateSlotInheritance(g, g.types)
	for _, a := range affected {
		a.UpdateSlotInheritance(g, g.types)
	}
}
