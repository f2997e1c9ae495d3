package validation

import (
	"fmt"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// validateSemantic checks what the document schema cannot: depends_on
// references and each step's type-specific config. checker may be nil to skip
// config checks.
func validateSemantic(wf *schema.Workflow, checker StepChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		stepIDs[s.ID] = true
	}

	for i, step := range wf.Steps {
		path := fmt.Sprintf("steps[%d]", i)

		for j, dep := range step.DependsOn {
			depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
			switch {
			case dep == step.ID:
				result.AddError(depPath, schema.ErrCodeCycleDetected,
					fmt.Sprintf("step %q depends on itself", step.ID))
			case !stepIDs[dep]:
				result.AddError(depPath, schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent step %q", dep))
			}
		}

		if checker != nil {
			if err := checker.ValidateStep(step); err != nil {
				result.AddError(path+".config", codeOf(err), schema.Message(err))
			}
		}
	}

	if wf.Status == schema.WorkflowStatusActive && len(wf.Steps) == 0 {
		result.AddWarning("steps", schema.ErrCodeValidation, "active workflow has no steps")
	}

	return result
}

func codeOf(err error) string {
	if code := schema.ErrorCode(err); code != "" {
		return code
	}
	return schema.ErrCodeValidation
}
