package actions

import (
	"context"
	"encoding/json"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Action is a named unit of work invoked by action steps.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	// Validate checks params statically, before any run starts.
	Validate(params map[string]any) error
}

// ActionSchema describes an action for listings and input validation.
type ActionSchema struct {
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// RunInfo identifies the run and step an action executes in.
type RunInfo struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// ActionInput is the data handed to an action at execution time.
type ActionInput struct {
	Params map[string]any `json:"params"`
	Run    RunInfo        `json:"run"`
}

// ActionOutput is the result of an action. Variables are merged into the
// run's variables by the caller.
type ActionOutput struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Variables map[string]any  `json:"variables,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// jsonOutput marshals v into an ActionOutput.
func jsonOutput(name string, v any) (*ActionOutput, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: marshal output: %v", name, err).WithCause(err)
	}
	return &ActionOutput{Data: b}, nil
}

func stringParam(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func boolParam(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

func mapParam(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}
