package steps

import (
	"context"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/expressions"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

const defaultTransformEngine = "jq"

// TransformHandler evaluates a jq or expr expression over the run scope and
// stores the result in output_var.
type TransformHandler struct {
	exprs *expressions.Set
}

// NewTransformHandler creates a transformation handler.
func NewTransformHandler(exprs *expressions.Set) *TransformHandler {
	return &TransformHandler{exprs: exprs}
}

func (h *TransformHandler) Type() schema.StepType { return schema.StepTypeTransformation }

func (h *TransformHandler) Validate(step schema.WorkflowStep) error {
	cfg, eng, err := h.resolve(step)
	if err != nil {
		return err
	}
	if cfg.OutputVar == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "transformation step %s: missing output_var", step.ID).WithStep(step.ID)
	}
	if err := eng.Check(cfg.Expression); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "transformation step %s: %s", step.ID, schema.Message(err)).
			WithStep(step.ID).WithCause(err)
	}
	return nil
}

func (h *TransformHandler) Execute(ctx context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	cfg, eng, err := h.resolve(step)
	if err != nil {
		return nil, err
	}
	out, err := eng.Evaluate(ctx, cfg.Expression, scope(step, ec))
	if err != nil {
		return nil, err
	}
	return success(out, map[string]any{cfg.OutputVar: out}), nil
}

func (h *TransformHandler) resolve(step schema.WorkflowStep) (schema.TransformationConfig, expressions.Engine, error) {
	var cfg schema.TransformationConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return cfg, nil, err
	}
	name := cfg.Engine
	if name == "" {
		name = defaultTransformEngine
	}
	if name != "jq" && name != "expr" {
		return cfg, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transformation step %s: engine must be jq or expr, got %q", step.ID, name).WithStep(step.ID)
	}
	eng, err := h.exprs.Get(name)
	if err != nil {
		return cfg, nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithStep(step.ID)
	}
	return cfg, eng, nil
}
