package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions for transformation steps that
// need arithmetic or collection helpers (filter, map, sum, ??, ?.).
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Check(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs an expr expression with the scope keys as top-level variables.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	env := Scope(nil, nil)
	for k, v := range data {
		env[k] = v
	}
	out, err := expr.Run(prg, env)
	if err != nil {
		return nil, expressionError(schema.ErrCodeExecution, "expr evaluation failed", expression, err)
	}
	return out, nil
}

func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	return e.cache.get(expression, compileExpr)
}

// compileExpr compiles against the canonical scope shape so a cached program
// is valid for every run.
func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(Scope(nil, nil)),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, expressionError(schema.ErrCodeValidation, "expr compile error", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
