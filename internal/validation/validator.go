package validation

import "github.com/jaqedu/jaqflow/pkg/schema"

// Validator checks workflow definitions for correctness before they are stored
// or executed. Uses JSON Schema Draft 2020-12 for document validation.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// StepChecker validates a single step's type-specific configuration.
// Satisfied by the step dispatcher.
type StepChecker interface {
	ValidateStep(step schema.WorkflowStep) error
}
