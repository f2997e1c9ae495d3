package schema

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the authoring lifecycle of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived:
		return true
	}
	return false
}

// Workflow is a named, versioned definition: an ordered set of steps with dependencies.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int            `json:"version"`
}

// Step returns the step with the given ID.
func (w *Workflow) Step(id string) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeAction         StepType = "action"
	StepTypeTransformation StepType = "transformation"
	StepTypeTrigger        StepType = "trigger"
	StepTypeCondition      StepType = "condition"
	StepTypeDelay          StepType = "delay"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeAction, StepTypeTransformation, StepTypeTrigger, StepTypeCondition, StepTypeDelay:
		return true
	}
	return false
}

// WorkflowStep describes a single unit of work. Config is opaque to the engine
// and interpreted by the executor registered for Type.
type WorkflowStep struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Type      StepType        `json:"type"`
	Config    json.RawMessage `json:"config,omitempty"`
	Order     int             `json:"order"`
	DependsOn []string        `json:"depends_on,omitempty"`
}

// ActionConfig is the config block for action steps.
type ActionConfig struct {
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params,omitempty"`
	OutputVar string          `json:"output_var,omitempty"`
	Requires  []string        `json:"requires,omitempty"`
}

// TransformationConfig is the config block for transformation steps.
type TransformationConfig struct {
	Engine     string   `json:"engine,omitempty"` // jq | expr (default: jq)
	Expression string   `json:"expression"`
	OutputVar  string   `json:"output_var"`
	Requires   []string `json:"requires,omitempty"`
}

// ConditionConfig is the config block for condition steps.
type ConditionConfig struct {
	Expression string   `json:"expression"`
	OutputVar  string   `json:"output_var,omitempty"`
	Required   bool     `json:"required,omitempty"`
	Requires   []string `json:"requires,omitempty"`
}

// DelayConfig is the config block for delay steps.
type DelayConfig struct {
	Duration string `json:"duration"`
}

// TriggerConfig is the config block for trigger steps.
type TriggerConfig struct {
	Schedule string         `json:"schedule,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}
