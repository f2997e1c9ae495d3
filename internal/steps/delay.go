package steps

import (
	"context"
	"time"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// DelayHandler waits for the configured duration or until ctx is done.
type DelayHandler struct{}

func (DelayHandler) Type() schema.StepType { return schema.StepTypeDelay }

func (DelayHandler) Validate(step schema.WorkflowStep) error {
	_, err := delayDuration(step)
	return err
}

func (DelayHandler) Execute(ctx context.Context, step schema.WorkflowStep, _ *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	d, err := delayDuration(step)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return success(map[string]any{"waited_ms": d.Milliseconds()}, nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func delayDuration(step schema.WorkflowStep) (time.Duration, error) {
	var cfg schema.DelayConfig
	if err := decodeConfig(step, &cfg); err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(cfg.Duration)
	if err != nil || d < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "delay step %s: invalid duration %q", step.ID, cfg.Duration).
			WithStep(step.ID)
	}
	return d, nil
}
