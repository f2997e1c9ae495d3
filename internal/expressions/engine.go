package expressions

import (
	"context"
	"fmt"
)

// Engine evaluates expressions within workflow steps.
// Three implementations: CEL (conditions), GoJQ and Expr (transformations).
type Engine interface {
	Name() string
	// Check compiles the expression without evaluating it.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Scope builds the evaluation data exposed to every engine:
//   - vars:     the run's variables
//   - workflow: run metadata (id, execution_id, step)
func Scope(vars, workflow map[string]any) map[string]any {
	if vars == nil {
		vars = map[string]any{}
	}
	if workflow == nil {
		workflow = map[string]any{}
	}
	return map[string]any{"vars": vars, "workflow": workflow}
}

// Set holds one instance of each engine, keyed by name.
type Set struct {
	engines map[string]Engine
	cel     *CELEngine
}

// NewSet creates the CEL, jq and expr engines.
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	s := &Set{engines: make(map[string]Engine, 3), cel: celEngine}
	for _, e := range []Engine{celEngine, NewGoJQEngine(), NewExprEngine()} {
		s.engines[e.Name()] = e
	}
	return s, nil
}

// Get returns the engine registered under name.
func (s *Set) Get(name string) (Engine, error) {
	e, ok := s.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown expression engine %q", name)
	}
	return e, nil
}

// CEL returns the set's CEL engine, which also offers boolean evaluation.
func (s *Set) CEL() *CELEngine {
	return s.cel
}
