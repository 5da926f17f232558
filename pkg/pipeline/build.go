package pipeline

import (
	"fmt"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/datatype"
	"github.com/wehubfusion/slotflow/pkg/graph"
	"github.com/wehubfusion/slotflow/pkg/node"
	"github.com/wehubfusion/slotflow/pkg/slot"
)

// Pipeline is a built definition: a graph of nodes together with the
// algorithms that run them.
type Pipeline struct {
	Name  string
	Graph *graph.Graph

	runnables map[string]algorithm.Runnable
	order     []string
}

// Runnable returns the algorithm of the node with the given id.
func (p *Pipeline) Runnable(id string) (algorithm.Runnable, bool) {
	r, ok := p.runnables[id]
	return r, ok
}

// Runnables returns the algorithms in declaration order.
func (p *Pipeline) Runnables() []algorithm.Runnable {
	result := make([]algorithm.Runnable, 0, len(p.order))
	for _, id := range p.order {
		result = append(result, p.runnables[id])
	}
	return result
}

// passThroughSetter is implemented by every algorithm variant.
type passThroughSetter interface {
	SetPassThrough(p *algorithm.PassThrough)
}

// Build creates the nodes of def from catalog and connects them. types
// checks connections and inherited slot types; nil accepts every connection.
func Build(def *Definition, catalog *algorithm.Catalog, types *datatype.Registry) (*Pipeline, error) {
	if def == nil {
		return nil, fmt.Errorf("definition is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var checker node.TypeChecker
	if types != nil {
		checker = types
	}
	p := &Pipeline{
		Name:      def.Name,
		Graph:     graph.New(checker),
		runnables: make(map[string]algorithm.Runnable, len(def.Nodes)),
	}

	for _, nd := range def.Nodes {
		r, err := buildNode(nd, catalog, types)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nd.ID, err)
		}
		if err := p.Graph.AddNode(r.Node()); err != nil {
			return nil, err
		}
		p.runnables[nd.ID] = r
		p.order = append(p.order, nd.ID)
	}

	for i, e := range def.Edges {
		from, _ := ParseSlotAddress(e.From)
		to, _ := ParseSlotAddress(e.To)
		if err := p.Graph.ConnectByName(from.Node, from.Slot, to.Node, to.Slot); err != nil {
			return nil, fmt.Errorf("edges[%d] %s -> %s: %w", i, from, to, err)
		}
	}

	if _, err := p.Graph.TopologicalLevels(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildNode(nd NodeDef, catalog *algorithm.Catalog, types *datatype.Registry) (algorithm.Runnable, error) {
	opts := []node.Option{node.WithID(nd.ID)}
	if nd.Name != "" {
		opts = append(opts, node.WithName(nd.Name))
	}
	if nd.Description != "" {
		opts = append(opts, node.WithDescription(nd.Description))
	}
	r, err := catalog.Create(nd.Type, nd.Parameters, opts...)
	if err != nil {
		return nil, err
	}

	cfg := r.Node().Configuration()
	for _, in := range nd.Inputs {
		accepted := in.Type
		if accepted == "" {
			accepted = datatype.Any
		}
		if types != nil && !types.Known(accepted) {
			return nil, fmt.Errorf("input %s: unknown data type %q", in.Name, accepted)
		}
		if err := cfg.AddSlot(slot.InputDefinition(in.Name, accepted), true); err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
	}

	if !nd.Settings.IsZero() {
		c, ok := r.(algorithm.Configurable)
		if !ok {
			return nil, fmt.Errorf("type %s does not accept matching settings", nd.Type)
		}
		settings := c.MatchingSettings()
		if err := nd.Settings.Decode(&settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
		if err := c.Configure(settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}

	if nd.PassThrough != nil {
		s, ok := r.(passThroughSetter)
		if !ok {
			return nil, fmt.Errorf("type %s does not support pass-through", nd.Type)
		}
		s.SetPassThrough(nd.PassThrough)
	}
	return r, nil
}
