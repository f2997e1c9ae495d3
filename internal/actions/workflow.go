package actions

import (
	"context"
	"log/slog"
	"maps"

	"github.com/jaqedu/jaqflow/internal/logging"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Emitter publishes custom events raised by workflow.emit.
type Emitter interface {
	Emit(ctx context.Context, event string, payload map[string]any)
}

// WorkflowActions returns the run-scoped actions: noop, set, log, fail and emit.
func WorkflowActions(logger *slog.Logger, events Emitter) []Action {
	if logger == nil {
		logger = slog.Default()
	}
	return []Action{
		noopAction{},
		setAction{},
		&logAction{logger: logger},
		failAction{},
		&emitAction{events: events},
	}
}

// --- workflow.noop ---

type noopAction struct{}

func (noopAction) Name() string                  { return "workflow.noop" }
func (noopAction) Schema() ActionSchema          { return ActionSchema{Description: "Do nothing and succeed."} }
func (noopAction) Validate(map[string]any) error { return nil }

func (noopAction) Execute(context.Context, ActionInput) (*ActionOutput, error) {
	return jsonOutput("workflow.noop", map[string]any{"ok": true})
}

// --- workflow.set ---

type setAction struct{}

func (setAction) Name() string { return "workflow.set" }

func (setAction) Schema() ActionSchema {
	return ActionSchema{Description: "Merge the 'values' object into the run variables."}
}

func (setAction) Validate(params map[string]any) error {
	if mapParam(params, "values") == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow.set: missing required object param 'values'")
	}
	return nil
}

func (a setAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	values := maps.Clone(mapParam(input.Params, "values"))
	out, err := jsonOutput("workflow.set", map[string]any{"set": len(values)})
	if err != nil {
		return nil, err
	}
	out.Variables = values
	return out, nil
}

// --- workflow.log ---

type logAction struct {
	logger *slog.Logger
}

func (a *logAction) Name() string { return "workflow.log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{Description: "Write a structured log entry correlated with the run."}
}

func (a *logAction) Validate(params map[string]any) error {
	if stringParam(params, "message", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow.log: missing required param 'message'")
	}
	return nil
}

func (a *logAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}

	var level slog.Level
	switch stringParam(input.Params, "level", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	ctx = logging.WithRun(ctx, input.Run.WorkflowID, input.Run.ExecutionID)
	ctx = logging.WithStepID(ctx, input.Run.StepID)

	var attrs []slog.Attr
	if data, ok := input.Params["data"]; ok {
		attrs = append(attrs, slog.Any("data", data))
	}
	a.logger.LogAttrs(ctx, level, stringParam(input.Params, "message", ""), attrs...)

	return jsonOutput("workflow.log", map[string]any{"logged": true})
}

// --- workflow.fail ---

type failAction struct{}

func (failAction) Name() string { return "workflow.fail" }

func (failAction) Schema() ActionSchema {
	return ActionSchema{Description: "Fail the current step with a reason."}
}

func (failAction) Validate(params map[string]any) error {
	if stringParam(params, "reason", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow.fail: missing required param 'reason'")
	}
	return nil
}

func (failAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	return nil, schema.NewError(schema.ErrCodeStepFailed, stringParam(input.Params, "reason", "workflow.fail invoked"))
}

// --- workflow.emit ---

type emitAction struct {
	events Emitter
}

func (a *emitAction) Name() string { return "workflow.emit" }

func (a *emitAction) Schema() ActionSchema {
	return ActionSchema{Description: "Publish a custom event to subscribers."}
}

func (a *emitAction) Validate(params map[string]any) error {
	if stringParam(params, "event", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow.emit: missing required param 'event'")
	}
	return nil
}

func (a *emitAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	if a.events == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "workflow.emit: no event emitter configured")
	}

	payload := map[string]any{
		"workflowId":  input.Run.WorkflowID,
		"executionId": input.Run.ExecutionID,
		"stepId":      input.Run.StepID,
	}
	for k, v := range mapParam(input.Params, "payload") {
		payload[k] = v
	}
	a.events.Emit(ctx, stringParam(input.Params, "event", ""), payload)

	return jsonOutput("workflow.emit", map[string]any{"emitted": true})
}
