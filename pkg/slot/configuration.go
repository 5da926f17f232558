package slot

import (
	"encoding/json"
	"fmt"

	"github.com/wehubfusion/slotflow/pkg/datatype"
	slotErrors "github.com/wehubfusion/slotflow/pkg/errors"
)

// DefaultMaxSlots is the default limit of user-added slots per direction.
const DefaultMaxSlots = 32

// Listener is notified after every structural change of a Configuration.
type Listener interface {
	SlotConfigurationChanged(c *Configuration)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(c *Configuration)

// SlotConfigurationChanged calls f(c).
func (f ListenerFunc) SlotConfigurationChanged(c *Configuration) { f(c) }

// Policy restricts edits made on behalf of a user. Programmatic edits bypass it.
type Policy struct {
	AllowInputSlots           bool              `json:"allowInputSlots" yaml:"allowInputSlots"`
	AllowOutputSlots          bool              `json:"allowOutputSlots" yaml:"allowOutputSlots"`
	AllowInheritedOutputSlots bool              `json:"allowInheritedOutputSlots" yaml:"allowInheritedOutputSlots"`
	AllowedInputTypes         []datatype.Handle `json:"allowedInputTypes,omitempty" yaml:"allowedInputTypes,omitempty"`
	AllowedOutputTypes        []datatype.Handle `json:"allowedOutputTypes,omitempty" yaml:"allowedOutputTypes,omitempty"`
	MaxInputSlots             int               `json:"maxInputSlots" yaml:"maxInputSlots"`
	MaxOutputSlots            int               `json:"maxOutputSlots" yaml:"maxOutputSlots"`
}

// DefaultPolicy allows every edit up to DefaultMaxSlots per direction.
func DefaultPolicy() Policy {
	return Policy{
		AllowInputSlots:           true,
		AllowOutputSlots:          true,
		AllowInheritedOutputSlots: true,
		MaxInputSlots:             DefaultMaxSlots,
		MaxOutputSlots:            DefaultMaxSlots,
	}
}

// Option configures a Configuration.
type Option func(*Configuration)

// WithPolicy sets the user edit policy.
func WithPolicy(p Policy) Option {
	return func(c *Configuration) { c.policy = p }
}

// WithListener sets the change listener.
func WithListener(l Listener) Option {
	return func(c *Configuration) { c.listener = l }
}

// Configuration is the ordered slot schema of a node.
type Configuration struct {
	inputs       map[string]Definition
	inputOrder   []string
	outputs      map[string]Definition
	outputOrder  []string
	inputSealed  bool
	outputSealed bool
	policy       Policy
	listener     Listener
}

// NewConfiguration creates an empty configuration.
func NewConfiguration(opts ...Option) *Configuration {
	c := &Configuration{
		inputs:  make(map[string]Definition),
		outputs: make(map[string]Definition),
		policy:  DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetListener replaces the change listener. Nodes bind themselves here when
// they take ownership of a configuration.
func (c *Configuration) SetListener(l Listener) {
	c.listener = l
}

// Policy returns the user edit policy.
func (c *Configuration) Policy() Policy {
	return c.policy
}

func (c *Configuration) notify() {
	if c.listener != nil {
		c.listener.SlotConfigurationChanged(c)
	}
}

func (c *Configuration) side(dir Direction) (map[string]Definition, *[]string) {
	if dir == Output {
		return c.outputs, &c.outputOrder
	}
	return c.inputs, &c.inputOrder
}

// Seal blocks user edits in both directions.
func (c *Configuration) Seal() {
	c.inputSealed = true
	c.outputSealed = true
}

// SealInputs blocks user edits of input slots.
func (c *Configuration) SealInputs() { c.inputSealed = true }

// SealOutputs blocks user edits of output slots.
func (c *Configuration) SealOutputs() { c.outputSealed = true }

// IsSealed reports whether user edits in dir are blocked.
func (c *Configuration) IsSealed(dir Direction) bool {
	if dir == Output {
		return c.outputSealed
	}
	return c.inputSealed
}

// CanModify reports whether a user may edit slots in dir.
func (c *Configuration) CanModify(dir Direction) bool {
	if c.IsSealed(dir) {
		return false
	}
	if dir == Output {
		return c.policy.AllowOutputSlots
	}
	return c.policy.AllowInputSlots
}

// CanAdd reports whether a user may add another slot in dir.
func (c *Configuration) CanAdd(dir Direction) bool {
	if !c.CanModify(dir) {
		return false
	}
	limit := c.policy.MaxInputSlots
	count := len(c.inputOrder)
	if dir == Output {
		limit = c.policy.MaxOutputSlots
		count = len(c.outputOrder)
	}
	return limit <= 0 || count < limit
}

func (c *Configuration) typeAllowed(def Definition) bool {
	allowed := c.policy.AllowedInputTypes
	if def.Direction == Output {
		allowed = c.policy.AllowedOutputTypes
	}
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if t == def.AcceptedType {
			return true
		}
	}
	return false
}

func (c *Configuration) checkUserEdit(dir Direction, name string) error {
	if c.IsSealed(dir) {
		return slotErrors.SlotError(slotErrors.ErrSlotConfigurationSealed, "", name, dir.String()+" slots are sealed")
	}
	if !c.CanModify(dir) {
		return slotErrors.SlotError(slotErrors.ErrSlotConfigurationSealed, "", name, dir.String()+" slots cannot be modified")
	}
	return nil
}

// AddSlot adds a slot at the end of its direction's order. If user is set,
// the edit is checked against the sealing state and the policy.
func (c *Configuration) AddSlot(def Definition, user bool) error {
	if def.Name == "" {
		return fmt.Errorf("slot name is required")
	}
	defs, order := c.side(def.Direction)
	if _, exists := defs[def.Name]; exists {
		return slotErrors.SlotError(slotErrors.ErrSlotExists, "", def.Name, "a "+def.Direction.String()+" slot with this name already exists")
	}
	if user {
		if err := c.checkUserEdit(def.Direction, def.Name); err != nil {
			return err
		}
		if !c.CanAdd(def.Direction) {
			return slotErrors.SlotError(slotErrors.ErrSlotLimitReached, "", def.Name, "cannot add more "+def.Direction.String()+" slots")
		}
		if !c.typeAllowed(def) {
			return slotErrors.SlotError(slotErrors.ErrSlotTypeNotAllowed, "", def.Name, fmt.Sprintf("type %q is not allowed", def.AcceptedType))
		}
		if def.Inherits() && !c.policy.AllowInheritedOutputSlots {
			return slotErrors.SlotError(slotErrors.ErrInheritanceNotAllowed, "", def.Name, "inherited output slots are not allowed")
		}
	}
	defs[def.Name] = def
	*order = append(*order, def.Name)
	c.notify()
	return nil
}

// RemoveSlot removes a slot.
func (c *Configuration) RemoveSlot(dir Direction, name string, user bool) error {
	defs, order := c.side(dir)
	if _, exists := defs[name]; !exists {
		return slotErrors.SlotError(slotErrors.ErrSlotNotFound, "", name, "no such "+dir.String()+" slot")
	}
	if user {
		if err := c.checkUserEdit(dir, name); err != nil {
			return err
		}
	}
	delete(defs, name)
	*order = removeName(*order, name)
	c.notify()
	return nil
}

// RenameSlot renames a slot, keeping its position.
func (c *Configuration) RenameSlot(dir Direction, oldName, newName string, user bool) error {
	defs, order := c.side(dir)
	def, exists := defs[oldName]
	if !exists {
		return slotErrors.SlotError(slotErrors.ErrSlotNotFound, "", oldName, "no such "+dir.String()+" slot")
	}
	if oldName == newName {
		return nil
	}
	if _, taken := defs[newName]; taken {
		return slotErrors.SlotError(slotErrors.ErrSlotExists, "", newName, "a "+dir.String()+" slot with this name already exists")
	}
	if user {
		if err := c.checkUserEdit(dir, oldName); err != nil {
			return err
		}
	}
	delete(defs, oldName)
	def.Name = newName
	defs[newName] = def
	for i, n := range *order {
		if n == oldName {
			(*order)[i] = newName
		}
	}
	c.notify()
	return nil
}

// InputSlots returns the input definitions in order.
func (c *Configuration) InputSlots() []Definition {
	return c.ordered(Input)
}

// OutputSlots returns the output definitions in order.
func (c *Configuration) OutputSlots() []Definition {
	return c.ordered(Output)
}

func (c *Configuration) ordered(dir Direction) []Definition {
	defs, order := c.side(dir)
	result := make([]Definition, 0, len(*order))
	for _, name := range *order {
		result = append(result, defs[name])
	}
	return result
}

// Slot returns the definition with the given name and direction.
func (c *Configuration) Slot(dir Direction, name string) (Definition, bool) {
	defs, _ := c.side(dir)
	def, ok := defs[name]
	return def, ok
}

// Order returns the slot names of dir in order.
func (c *Configuration) Order(dir Direction) []string {
	_, order := c.side(dir)
	return append([]string(nil), *order...)
}

// SetOrder replaces the order of dir. names must be a permutation of the
// current slot names.
func (c *Configuration) SetOrder(dir Direction, names []string) error {
	defs, order := c.side(dir)
	if len(names) != len(defs) {
		return fmt.Errorf("order must list all %d %s slots, got %d", len(defs), dir, len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := defs[n]; !ok {
			return slotErrors.SlotError(slotErrors.ErrSlotNotFound, "", n, "no such "+dir.String()+" slot")
		}
		if seen[n] {
			return fmt.Errorf("slot %q listed twice", n)
		}
		seen[n] = true
	}
	*order = append([]string(nil), names...)
	c.notify()
	return nil
}

// TrySetOrder reorders dir as far as possible: unknown names are ignored and
// slots not named keep their relative order after the named ones.
func (c *Configuration) TrySetOrder(dir Direction, names []string) {
	defs, order := c.side(dir)
	result := make([]string, 0, len(*order))
	seen := make(map[string]bool, len(*order))
	for _, n := range names {
		if _, ok := defs[n]; ok && !seen[n] {
			result = append(result, n)
			seen[n] = true
		}
	}
	for _, n := range *order {
		if !seen[n] {
			result = append(result, n)
		}
	}
	*order = result
	c.notify()
}

// MoveUp swaps a slot with its predecessor.
func (c *Configuration) MoveUp(dir Direction, name string) error {
	return c.move(dir, name, -1)
}

// MoveDown swaps a slot with its successor.
func (c *Configuration) MoveDown(dir Direction, name string) error {
	return c.move(dir, name, 1)
}

func (c *Configuration) move(dir Direction, name string, delta int) error {
	_, order := c.side(dir)
	idx := indexOf(*order, name)
	if idx < 0 {
		return slotErrors.SlotError(slotErrors.ErrSlotNotFound, "", name, "no such "+dir.String()+" slot")
	}
	target := idx + delta
	if target < 0 || target >= len(*order) {
		return nil
	}
	(*order)[idx], (*order)[target] = (*order)[target], (*order)[idx]
	c.notify()
	return nil
}

// Clear removes all slots of dir.
func (c *Configuration) Clear(dir Direction, user bool) error {
	if user {
		if err := c.checkUserEdit(dir, ""); err != nil {
			return err
		}
	}
	if dir == Output {
		c.outputs = make(map[string]Definition)
		c.outputOrder = nil
	} else {
		c.inputs = make(map[string]Definition)
		c.inputOrder = nil
	}
	c.notify()
	return nil
}

// SetTo replaces slots, sealing state and policy with those of other.
// The listener is kept.
func (c *Configuration) SetTo(other *Configuration) {
	c.inputs = copyDefs(other.inputs)
	c.outputs = copyDefs(other.outputs)
	c.inputOrder = append([]string(nil), other.inputOrder...)
	c.outputOrder = append([]string(nil), other.outputOrder...)
	c.inputSealed = other.inputSealed
	c.outputSealed = other.outputSealed
	c.policy = other.policy
	c.notify()
}

// Copy returns an independent copy without a listener.
func (c *Configuration) Copy() *Configuration {
	cp := NewConfiguration()
	cp.SetTo(c)
	return cp
}

// Entries serializes inputs followed by outputs, each in slot order.
func (c *Configuration) Entries() []Entry {
	entries := make([]Entry, 0, len(c.inputOrder)+len(c.outputOrder))
	for _, def := range c.InputSlots() {
		entries = append(entries, def.Entry())
	}
	for _, def := range c.OutputSlots() {
		entries = append(entries, def.Entry())
	}
	return entries
}

// ApplyEntries replaces all slots with the serialized entries. Conversions of
// existing slots with the same name and direction are kept.
func (c *Configuration) ApplyEntries(entries []Entry) error {
	inputs := make(map[string]Definition)
	outputs := make(map[string]Definition)
	var inputOrder, outputOrder []string
	for _, e := range entries {
		def := e.Definition()
		if existing, ok := c.Slot(def.Direction, def.Name); ok {
			def.Conversion = existing.Conversion
		}
		target, order := inputs, &inputOrder
		if def.Direction == Output {
			target, order = outputs, &outputOrder
		}
		if _, dup := target[def.Name]; dup {
			return slotErrors.SlotError(slotErrors.ErrSlotExists, "", def.Name, "duplicate "+def.Direction.String()+" slot")
		}
		target[def.Name] = def
		*order = append(*order, def.Name)
	}
	c.inputs, c.outputs = inputs, outputs
	c.inputOrder, c.outputOrder = inputOrder, outputOrder
	c.notify()
	return nil
}

// MarshalJSON encodes the configuration as its ordered entry list.
func (c *Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Entries())
}

// UnmarshalJSON decodes an ordered entry list.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode slot configuration: %w", err)
	}
	if c.inputs == nil {
		*c = *NewConfiguration()
	}
	return c.ApplyEntries(entries)
}

func copyDefs(in map[string]Definition) map[string]Definition {
	out := make(map[string]Definition, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func removeName(names []string, name string) []string {
	idx := indexOf(names, name)
	if idx < 0 {
		return names
	}
	return append(names[:idx:idx], names[idx+1:]...)
}
