// Package pipeline loads pipeline definitions, builds their node graph and
// runs it level by level.
package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/datatype"
)

// Definition is the file form of a pipeline.
type Definition struct {
	Name  string    `yaml:"name"`
	Nodes []NodeDef `yaml:"nodes"`
	Edges []EdgeDef `yaml:"edges"`
}

// NodeDef declares one node. Settings is decoded over the node's current
// matching settings, so omitted fields keep their defaults.
type NodeDef struct {
	ID          string                 `yaml:"id"`
	Type        string                 `yaml:"type"`
	Name        string                 `yaml:"name,omitempty"`
	Description string                 `yaml:"description,omitempty"`
	Parameters  algorithm.Parameters   `yaml:"parameters,omitempty"`
	Settings    yaml.Node              `yaml:"settings,omitempty"`
	Inputs      []SlotDef              `yaml:"inputs,omitempty"`
	PassThrough *algorithm.PassThrough `yaml:"passThrough,omitempty"`
}

// SlotDef declares an additional input slot.
type SlotDef struct {
	Name string          `yaml:"name"`
	Type datatype.Handle `yaml:"type,omitempty"`
}

// EdgeDef connects two slots addressed as "node/slot".
type EdgeDef struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SlotAddress is a parsed "node/slot" reference.
type SlotAddress struct {
	Node string
	Slot string
}

func (a SlotAddress) String() string { return a.Node + "/" + a.Slot }

// ParseSlotAddress splits "node/slot". The slot name follows the last slash.
func ParseSlotAddress(s string) (SlotAddress, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return SlotAddress{}, fmt.Errorf("invalid slot address %q, expected node/slot", s)
	}
	return SlotAddress{Node: s[:i], Slot: s[i+1:]}, nil
}

// Load reads a definition from a YAML or JSON file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structure of the definition without resolving node
// types.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("pipeline has no nodes")
	}
	ids := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: id is required", i)
		}
		if strings.Contains(n.ID, "/") {
			return fmt.Errorf("node %s: id must not contain '/'", n.ID)
		}
		if n.Type == "" {
			return fmt.Errorf("node %s: type is required", n.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("node %s is declared twice", n.ID)
		}
		ids[n.ID] = struct{}{}
		for j, s := range n.Inputs {
			if s.Name == "" {
				return fmt.Errorf("node %s: inputs[%d]: name is required", n.ID, j)
			}
		}
	}
	for i, e := range d.Edges {
		from, err := ParseSlotAddress(e.From)
		if err != nil {
			return fmt.Errorf("edges[%d]: %w", i, err)
		}
		to, err := ParseSlotAddress(e.To)
		if err != nil {
			return fmt.Errorf("edges[%d]: %w", i, err)
		}
		for _, a := range []SlotAddress{from, to} {
			if _, ok := ids[a.Node]; !ok {
				return fmt.Errorf("edges[%d]: unknown node %q", i, a.Node)
			}
		}
	}
	return nil
}
