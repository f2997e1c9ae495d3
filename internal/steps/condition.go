package steps

import (
	"context"
	"fmt"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/expressions"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// ConditionHandler evaluates a CEL boolean over the run scope. The outcome
// lands in output_var (default "<stepId>.result"); a required condition that
// evaluates false fails the step.
type ConditionHandler struct {
	cel *expressions.CELEngine
}

// NewConditionHandler creates a condition handler.
func NewConditionHandler(cel *expressions.CELEngine) *ConditionHandler {
	return &ConditionHandler{cel: cel}
}

func (h *ConditionHandler) Type() schema.StepType { return schema.StepTypeCondition }

func (h *ConditionHandler) Validate(step schema.WorkflowStep) error {
	var cfg schema.ConditionConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return err
	}
	if err := h.cel.Check(cfg.Expression); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "condition step %s: %s", step.ID, schema.Message(err)).
			WithStep(step.ID).WithCause(err)
	}
	return nil
}

func (h *ConditionHandler) Execute(ctx context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	var cfg schema.ConditionConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return nil, err
	}

	ok, err := h.cel.EvaluateBool(ctx, cfg.Expression, scope(step, ec))
	if err != nil {
		return nil, err
	}

	outputVar := cfg.OutputVar
	if outputVar == "" {
		outputVar = step.ID + ".result"
	}
	res := success(ok, map[string]any{outputVar: ok})
	if !ok && cfg.Required {
		res.Success = false
		res.Error = fmt.Sprintf("condition %q not satisfied", cfg.Expression)
	}
	return res, nil
}
