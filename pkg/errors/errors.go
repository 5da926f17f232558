package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateDataSet indicates that a batch key maps to more than one row in a slot
	ErrDuplicateDataSet = errors.New("duplicate data set")

	// ErrIncompleteDataSet indicates that a batch key has no rows in some input slot
	ErrIncompleteDataSet = errors.New("incomplete data set")

	// ErrUnknownMatchingStrategy indicates an unsupported column matching strategy
	ErrUnknownMatchingStrategy = errors.New("unknown column matching strategy")

	// ErrSlotNotFound indicates that a slot with the requested name does not exist
	ErrSlotNotFound = errors.New("slot not found")

	// ErrWrongSlotDirection indicates an input operation on an output slot or vice versa
	ErrWrongSlotDirection = errors.New("wrong slot direction")

	// ErrTypeMismatch indicates that data or a slot layout does not match what is expected
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrSlotExists indicates that a slot with the same name and direction already exists
	ErrSlotExists = errors.New("slot already exists")

	// ErrSlotConfigurationSealed indicates a user edit on a sealed slot direction
	ErrSlotConfigurationSealed = errors.New("slot configuration is sealed")

	// ErrSlotLimitReached indicates that the maximum number of slots was reached
	ErrSlotLimitReached = errors.New("slot limit reached")

	// ErrSlotTypeNotAllowed indicates that a slot's data type is not allowed by the configuration
	ErrSlotTypeNotAllowed = errors.New("slot type not allowed")

	// ErrInheritanceNotAllowed indicates that the configuration does not allow inherited output slots
	ErrInheritanceNotAllowed = errors.New("slot inheritance not allowed")

	// ErrUnknownNodeType indicates that no builder is registered for a node type
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrCyclicGraph indicates that the graph contains a cycle
	ErrCyclicGraph = errors.New("graph contains a cycle")
)

// Error represents a structured slotflow error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// SlotError creates a slot-addressing error for the given node and slot.
func SlotError(kind error, node, slot, message string) *Error {
	return NewError(codeOf(kind), fmt.Sprintf("node '%s', slot '%s': %s", node, slot, message), kind)
}

// MatchingError is raised during batch generation when upstream annotations cannot
// be organized into valid data sets.
type MatchingError struct {
	// Kind is ErrDuplicateDataSet or ErrIncompleteDataSet
	Kind error
	// Node is the display name of the node that failed
	Node string
	// Key is the offending batch key, serialized as name=value pairs
	Key string
	// Slot is the implicated input slot
	Slot string
	// Hint suggests the configuration change that resolves the error
	Hint string
}

// Error implements the error interface
func (e *MatchingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	b.WriteString(" in node '")
	b.WriteString(e.Node)
	b.WriteString("'")
	if e.Slot != "" {
		b.WriteString(", slot '")
		b.WriteString(e.Slot)
		b.WriteString("'")
	}
	b.WriteString(", data set {")
	b.WriteString(e.Key)
	b.WriteString("}")
	if e.Hint != "" {
		b.WriteString(": ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Unwrap returns the error kind
func (e *MatchingError) Unwrap() error {
	return e.Kind
}

// ExecutionError wraps an error raised by a per-batch callback.
type ExecutionError struct {
	// Node is the display name of the node
	Node string
	// BatchIndex is the position of the batch in generation order
	BatchIndex int
	// Key is the batch key as name=value pairs, empty when the batch has none
	Key string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("node '%s' failed at data batch %d: %v", e.Node, e.BatchIndex, e.Cause)
	}
	return fmt.Sprintf("node '%s' failed at data batch %d, data set {%s}: %v", e.Node, e.BatchIndex, e.Key, e.Cause)
}

// Unwrap returns the underlying error
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsMatchingError reports whether err is a recoverable-by-configuration matching error
func IsMatchingError(err error) bool {
	return errors.Is(err, ErrDuplicateDataSet) || errors.Is(err, ErrIncompleteDataSet)
}

// IsProgrammingError reports whether err is a slot-addressing error in calling code
func IsProgrammingError(err error) bool {
	return errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrWrongSlotDirection)
}

func codeOf(kind error) string {
	switch kind {
	case ErrSlotNotFound:
		return "SLOT_NOT_FOUND"
	case ErrWrongSlotDirection:
		return "WRONG_SLOT_DIRECTION"
	case ErrTypeMismatch:
		return "TYPE_MISMATCH"
	case ErrSlotExists:
		return "SLOT_EXISTS"
	case ErrSlotConfigurationSealed:
		return "SLOT_CONFIGURATION_SEALED"
	case ErrSlotLimitReached:
		return "SLOT_LIMIT_REACHED"
	case ErrSlotTypeNotAllowed:
		return "SLOT_TYPE_NOT_ALLOWED"
	case ErrInheritanceNotAllowed:
		return "INHERITANCE_NOT_ALLOWED"
	}
	return "SLOTFLOW_ERROR"
}
