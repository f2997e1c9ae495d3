package steps

import (
	"context"
	"encoding/json"

	"github.com/jaqedu/jaqflow/internal/actions"
	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// ActionHandler runs action steps: a named action from the registry with the
// step's params. A JSON-decoded output is stored under output_var.
type ActionHandler struct {
	registry *actions.Registry
}

// NewActionHandler creates an action handler backed by reg.
func NewActionHandler(reg *actions.Registry) *ActionHandler {
	return &ActionHandler{registry: reg}
}

func (h *ActionHandler) Type() schema.StepType { return schema.StepTypeAction }

func (h *ActionHandler) Validate(step schema.WorkflowStep) error {
	cfg, params, err := h.config(step)
	if err != nil {
		return err
	}
	if cfg.Action == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "action step %s: missing action", step.ID).WithStep(step.ID)
	}
	a, err := h.registry.Get(cfg.Action)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "action step %s: %s", step.ID, schema.Message(err)).
			WithStep(step.ID).WithCause(err)
	}
	return a.Validate(params)
}

func (h *ActionHandler) Execute(ctx context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	cfg, params, err := h.config(step)
	if err != nil {
		return nil, err
	}
	a, err := h.registry.Get(cfg.Action)
	if err != nil {
		return nil, err
	}

	out, err := a.Execute(ctx, actions.ActionInput{
		Params: params,
		Run: actions.RunInfo{
			WorkflowID:  ec.WorkflowID(),
			ExecutionID: ec.ExecutionID(),
			StepID:      step.ID,
			Variables:   ec.Variables(),
		},
	})
	if err != nil {
		return nil, err
	}

	var result any
	if out != nil && len(out.Data) > 0 {
		if err := json.Unmarshal(out.Data, &result); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "action %s returned invalid JSON", cfg.Action).WithCause(err)
		}
	}

	vars := make(map[string]any)
	if out != nil {
		for k, v := range out.Variables {
			vars[k] = v
		}
	}
	if cfg.OutputVar != "" {
		vars[cfg.OutputVar] = result
	}
	return success(result, vars), nil
}

func (h *ActionHandler) config(step schema.WorkflowStep) (schema.ActionConfig, map[string]any, error) {
	var cfg schema.ActionConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return cfg, nil, err
	}
	params := map[string]any{}
	if len(cfg.Params) > 0 {
		if err := json.Unmarshal(cfg.Params, &params); err != nil {
			return cfg, nil, invalidConfig(step, err)
		}
	}
	return cfg, params, nil
}
