package steps

import (
	"context"
	"maps"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Trigger variable names.
const (
	VarTriggerPayload = "trigger.payload"
	VarTriggerFiredAt = "trigger.fired_at"
	VarTriggerNextRun = "trigger.next_run"
)

// cronParser accepts standard five-field specs plus descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a trigger's cron schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron schedule %q: %v", spec, err).WithCause(err)
	}
	return s, nil
}

// TriggerHandler marks the entry point of a workflow. It exposes the trigger
// payload and firing time as variables; a schedule is validated and used by
// the scheduler to start runs.
type TriggerHandler struct {
	now func() time.Time
}

// NewTriggerHandler creates a trigger handler using the wall clock.
func NewTriggerHandler() *TriggerHandler {
	return &TriggerHandler{now: time.Now}
}

func (h *TriggerHandler) Type() schema.StepType { return schema.StepTypeTrigger }

func (h *TriggerHandler) Validate(step schema.WorkflowStep) error {
	var cfg schema.TriggerConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return err
	}
	if cfg.Schedule == "" {
		return nil
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "trigger step %s: %s", step.ID, schema.Message(err)).
			WithStep(step.ID).WithCause(err)
	}
	return nil
}

func (h *TriggerHandler) Execute(_ context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	var cfg schema.TriggerConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return nil, err
	}

	// A payload supplied when the run was started wins over the configured one.
	payload := maps.Clone(cfg.Payload)
	if v, ok := ec.GetVariable(VarTriggerPayload); ok {
		if m, ok := v.(map[string]any); ok {
			payload = m
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := h.now().UTC()
	vars := map[string]any{
		VarTriggerPayload: payload,
		VarTriggerFiredAt: now.Format(time.RFC3339),
	}
	if cfg.Schedule != "" {
		sched, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		vars[VarTriggerNextRun] = sched.Next(now).Format(time.RFC3339)
	}
	return success(payload, vars), nil
}
