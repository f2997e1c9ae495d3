package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// CELEngine evaluates condition-step expressions with Google's Common
// Expression Language.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares the two scope
// variables, vars and workflow, both map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("vars", mapType),
		cel.Variable("workflow", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs a CEL expression against data built by Scope.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, activation(data))
	if err != nil {
		return nil, expressionError(schema.ErrCodeExecution, "CEL evaluation failed", expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates a CEL expression that must produce a boolean.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	v, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL expression %q returned %T, expected bool", expression, v)
	}
	return b, nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	return e.cache.get(expression, e.compile)
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, expressionError(schema.ErrCodeValidation, "CEL compile error", expression, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "CEL program error", expression, err)
	}
	return prg, nil
}

// activation fills missing scope keys with empty maps so CEL never sees an
// undeclared variable at runtime.
func activation(data map[string]any) map[string]any {
	act := make(map[string]any, 2)
	for _, key := range []string{"vars", "workflow"} {
		if v, ok := data[key]; ok && v != nil {
			act[key] = v
		} else {
			act[key] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
