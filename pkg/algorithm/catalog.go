package algorithm

import (
	"fmt"
	"sort"
	"sync"

	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
	"github.com/wehubfusion/slotflow/pkg/node"
)

// Creator builds the algorithm of a freshly created node from its parameters.
type Creator func(n *node.Node, params Parameters) (Runnable, error)

// Catalog registers node types together with the algorithm that runs them.
type Catalog struct {
	types *node.TypeRegistry

	mu       sync.RWMutex
	creators map[string]Creator
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		types:    node.NewTypeRegistry(),
		creators: make(map[string]Creator),
	}
}

// Register registers a node type and its creator.
func (c *Catalog) Register(info node.TypeInfo, creator Creator) error {
	if creator == nil {
		return fmt.Errorf("node type %q has no creator", info.ID)
	}
	if err := c.types.Register(info); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creators[info.ID] = creator
	return nil
}

// NodeTypes returns the registry holding the default slot layouts.
func (c *Catalog) NodeTypes() *node.TypeRegistry { return c.types }

// HasCreator checks if a creator exists for a node type.
func (c *Catalog) HasCreator(typeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.creators[typeID]
	return ok
}

// RegisteredTypes returns all registered node types, sorted.
func (c *Catalog) RegisteredTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, 0, len(c.creators))
	for id := range c.creators {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Create instantiates a node of typeID and its algorithm.
func (c *Catalog) Create(typeID string, params Parameters, opts ...node.Option) (Runnable, error) {
	c.mu.RLock()
	creator, ok := c.creators[typeID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", slotErrors.ErrUnknownNodeType, typeID)
	}
	n, err := c.types.New(typeID, opts...)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = Parameters{}
	}
	r, err := creator(n, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s of type %s: %w", n.Name(), typeID, err)
	}
	return r, nil
}
