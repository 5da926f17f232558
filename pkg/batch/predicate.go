package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// PredicateMode selects how a StringPredicate matches column names.
type PredicateMode string

const (
	Equals           PredicateMode = "equals"
	EqualsIgnoreCase PredicateMode = "equals-ignore-case"
	Contains         PredicateMode = "contains"
	Regex            PredicateMode = "regex"
	// Script evaluates a JavaScript expression with the candidate bound to `value`.
	Script PredicateMode = "script"
)

// StringPredicate selects annotation columns. A plain string in YAML or JSON
// decodes as an Equals predicate.
type StringPredicate struct {
	Mode  PredicateMode `json:"mode" yaml:"mode"`
	Value string        `json:"value" yaml:"value"`
}

// Eq returns an Equals predicate.
func Eq(value string) StringPredicate {
	return StringPredicate{Mode: Equals, Value: value}
}

// Columns converts plain column names into Equals predicates.
func Columns(names ...string) []StringPredicate {
	result := make([]StringPredicate, len(names))
	for i, n := range names {
		result[i] = Eq(n)
	}
	return result
}

// ScriptTimeout bounds a single script predicate evaluation.
var ScriptTimeout = time.Second

// Matcher tests a column name. Only script matchers can fail.
type Matcher func(ctx context.Context, column string) (bool, error)

func matchFunc(fn func(string) bool) Matcher {
	return func(_ context.Context, s string) (bool, error) { return fn(s), nil }
}

// Compile prepares the predicate for repeated use. Script matchers own a
// JavaScript runtime and must not be shared between goroutines.
func (p StringPredicate) Compile() (Matcher, error) {
	switch p.Mode {
	case Equals, "":
		return matchFunc(func(s string) bool { return s == p.Value }), nil
	case EqualsIgnoreCase:
		folded := cases.Fold().String(p.Value)
		return matchFunc(func(s string) bool { return cases.Fold().String(s) == folded }), nil
	case Contains:
		return matchFunc(func(s string) bool { return strings.Contains(s, p.Value) }), nil
	case Regex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid column regex %q: %w", p.Value, err)
		}
		return matchFunc(re.MatchString), nil
	case Script:
		return compileScript(p.Value, ScriptTimeout)
	}
	return nil, fmt.Errorf("unknown predicate mode %q", p.Mode)
}

func compileScript(source string, timeout time.Duration) (Matcher, error) {
	program, err := goja.Compile("column-predicate", source, true)
	if err != nil {
		return nil, fmt.Errorf("invalid column script: %w", err)
	}
	vm := goja.New()
	return func(ctx context.Context, s string) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		var (
			mu       sync.Mutex
			finished bool
		)
		interrupt := func(v any) {
			mu.Lock()
			defer mu.Unlock()
			if !finished {
				vm.Interrupt(v)
			}
		}
		defer func() {
			mu.Lock()
			finished = true
			mu.Unlock()
			vm.ClearInterrupt()
		}()

		timer := time.AfterFunc(timeout, func() { interrupt("execution timeout") })
		defer timer.Stop()
		stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
		defer stop()

		if err := vm.Set("value", s); err != nil {
			return false, fmt.Errorf("column script: failed to set value: %w", err)
		}
		result, err := vm.RunProgram(program)
		if err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				if cause := ctx.Err(); cause != nil {
					return false, cause
				}
				return false, fmt.Errorf("column script exceeded %s on %q", timeout, s)
			}
			return false, fmt.Errorf("column script failed on %q: %w", s, err)
		}
		return result.ToBoolean(), nil
	}, nil
}

// UnmarshalJSON accepts either a string or a {mode, value} object.
func (p *StringPredicate) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*p = Eq(plain)
		return nil
	}
	type raw StringPredicate
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid column predicate: %w", err)
	}
	*p = StringPredicate(r)
	if p.Mode == "" {
		p.Mode = Equals
	}
	return nil
}

// UnmarshalYAML accepts either a scalar or a {mode, value} mapping.
func (p *StringPredicate) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = Eq(node.Value)
		return nil
	}
	type raw StringPredicate
	var r raw
	if err := node.Decode(&r); err != nil {
		return fmt.Errorf("invalid column predicate: %w", err)
	}
	*p = StringPredicate(r)
	if p.Mode == "" {
		p.Mode = Equals
	}
	return nil
}
