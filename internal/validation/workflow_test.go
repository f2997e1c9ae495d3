package validation

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// mockChecker rejects steps whose IDs are listed in bad.
type mockChecker struct {
	bad map[string]error
}

func (m *mockChecker) ValidateStep(step schema.WorkflowStep) error {
	return m.bad[step.ID]
}

func step(id string, deps ...string) schema.WorkflowStep {
	return schema.WorkflowStep{ID: id, Type: schema.StepTypeAction, Config: json.RawMessage(`{"action":"noop"}`), DependsOn: deps}
}

func workflow(steps ...schema.WorkflowStep) *schema.Workflow {
	return &schema.Workflow{ID: "wf-1", Name: "Enrollment", Status: schema.WorkflowStatusActive, Steps: steps}
}

func TestWorkflowValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*WorkflowValidator)(nil)
}

func TestWorkflowValidator_Valid(t *testing.T) {
	wv, err := NewWorkflowValidator(&mockChecker{})
	require.NoError(t, err)

	result := wv.Validate(workflow(step("a"), step("b", "a"), step("c", "a", "b")))
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, wv.ValidateWorkflow(workflow(step("a"))))
}

func TestWorkflowValidator_Nil(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_StructuralErrors(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		wf   *schema.Workflow
	}{
		{"missing id", &schema.Workflow{Name: "x", Steps: []schema.WorkflowStep{step("a")}}},
		{"missing name", &schema.Workflow{ID: "wf", Steps: []schema.WorkflowStep{step("a")}}},
		{"unknown status", &schema.Workflow{ID: "wf", Name: "x", Status: "deleted"}},
		{"unknown step type", &schema.Workflow{ID: "wf", Name: "x", Steps: []schema.WorkflowStep{{ID: "a", Type: "loop"}}}},
		{"empty step id", &schema.Workflow{ID: "wf", Name: "x", Steps: []schema.WorkflowStep{{Type: schema.StepTypeDelay}}}},
		{"config not an object", &schema.Workflow{ID: "wf", Name: "x", Steps: []schema.WorkflowStep{{ID: "a", Type: schema.StepTypeDelay, Config: json.RawMessage(`[1]`)}}}},
		{"duplicate step", workflow(step("a"), step("a"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wv.Validate(tt.wf)
			assert.False(t, result.Valid())
			assert.Equal(t, schema.ErrCodeValidation, result.Errors[0].Code)
		})
	}
}

func TestWorkflowValidator_StructuralShortCircuits(t *testing.T) {
	checker := &mockChecker{bad: map[string]error{"a": errors.New("bad config")}}
	wv, err := NewWorkflowValidator(checker)
	require.NoError(t, err)

	wf := workflow(step("a"))
	wf.Name = ""
	result := wv.Validate(wf)
	require.False(t, result.Valid())
	for _, e := range result.Errors {
		assert.NotContains(t, e.Message, "bad config")
	}
}

func TestWorkflowValidator_UnknownDependency(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(workflow(step("a", "ghost")))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "steps[0].depends_on[0]", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, `"ghost"`)
}

func TestWorkflowValidator_SelfDependency(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(workflow(step("a", "a")))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
}

func TestWorkflowValidator_StepConfigErrors(t *testing.T) {
	checker := &mockChecker{bad: map[string]error{
		"b": schema.NewError(schema.ErrCodeValidation, "delay step requires a duration"),
	}}
	wv, err := NewWorkflowValidator(checker)
	require.NoError(t, err)

	result := wv.Validate(workflow(step("a"), step("b")))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "steps[1].config", result.Errors[0].Path)
	assert.Equal(t, "delay step requires a duration", result.Errors[0].Message)

	err = wv.ValidateWorkflow(workflow(step("a"), step("b")))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestWorkflowValidator_Cycle(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(workflow(step("a", "c"), step("b", "a"), step("c", "b"), step("d")))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "[a b c]")

	err = wv.ValidateWorkflow(workflow(step("a", "b"), step("b", "a")))
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestWorkflowValidator_OrderHintWarning(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	a := step("a")
	a.Order = 5
	b := step("b", "a")
	b.Order = 1

	result := wv.Validate(workflow(a, b))
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "steps[1].order", result.Warnings[0].Path)
}

func TestWorkflowValidator_EmptyActiveWorkflowWarns(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(workflow())
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)

	draft := workflow()
	draft.Status = schema.WorkflowStatusDraft
	assert.Empty(t, wv.Validate(draft).Warnings)
}

func TestJSONSchemaValidator_ValidateInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type":"object","required":["student_id"],"properties":{"student_id":{"type":"string"},"grade":{"type":"integer","minimum":1}}}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"student_id": "s-1", "grade": 3}, s))
	assert.NoError(t, v.ValidateInput(map[string]any{}, nil))

	err = v.ValidateInput(map[string]any{"grade": 0}, s)
	require.Error(t, err)
	var ee *schema.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, schema.ErrCodeValidation, ee.Code)
	violations, ok := ee.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)

	assert.Error(t, v.ValidateInput(nil, s))
	assert.Error(t, v.ValidateInput(map[string]any{}, []byte(`{not json`)))
}

func TestJSONSchemaValidator_ConcurrentCache(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type":"object","properties":{"n":{"type":"number"}}}`)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{"n": n}, s))
		}(i)
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}
