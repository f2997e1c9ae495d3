package validation

import "github.com/jaqedu/jaqflow/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (depends_on refs, per-type step config)
// 3. DAG (cycles, order hints)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepChecker
}

// NewWorkflowValidator creates a WorkflowValidator.
// checker may be nil to skip step config checks.
func NewWorkflowValidator(checker StepChecker) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, steps: checker}, nil
}

// Validate runs the full pipeline. Structural errors short-circuit; the DAG
// stage only runs on a semantically valid graph.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(wf, wv.steps))

	if result.Valid() {
		result.Merge(validateDAG(wf))
	}
	return result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// JSONSchema exposes the structural validator for callers that validate
// arbitrary documents.
func (wv *WorkflowValidator) JSONSchema() *JSONSchemaValidator {
	return wv.jsonSchema
}

func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateWorkflow(wf)
	if err == nil {
		return result
	}

	ee, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := ee.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, ee.Message)
	return result
}
