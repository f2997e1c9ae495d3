package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/internal/validation"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

func execAssert(t *testing.T, name string, params map[string]any) error {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	for _, a := range AssertActions(v) {
		if a.Name() == name {
			_, err := a.Execute(context.Background(), ActionInput{Params: params})
			return err
		}
	}
	t.Fatalf("action %s not found", name)
	return nil
}

func requireAssertionFailed(t *testing.T, err error) *schema.EngineError {
	t.Helper()
	var ee *schema.EngineError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, schema.ErrCodeAssertionFailed, ee.Code)
	return ee
}

func TestAssertEquals(t *testing.T) {
	assert.NoError(t, execAssert(t, "assert.equals", map[string]any{
		"expected": map[string]any{"score": 90, "tags": []any{"a"}},
		"actual":   map[string]any{"score": float64(90), "tags": []any{"a"}},
	}))

	ee := requireAssertionFailed(t, execAssert(t, "assert.equals", map[string]any{
		"expected": "pass", "actual": "fail",
	}))
	assert.Equal(t, "pass", ee.Details["expected"])
	assert.Equal(t, "fail", ee.Details["actual"])

	ee = requireAssertionFailed(t, execAssert(t, "assert.equals", map[string]any{
		"expected": 1, "actual": 2, "message": "grade mismatch",
	}))
	assert.Equal(t, "grade mismatch", ee.Message)

	err := execAssert(t, "assert.equals", map[string]any{"expected": 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAssertContains(t *testing.T) {
	assert.NoError(t, execAssert(t, "assert.contains", map[string]any{"haystack": "algebra I", "needle": "bra"}))
	assert.NoError(t, execAssert(t, "assert.contains", map[string]any{"haystack": []any{float64(1), "x"}, "needle": 1}))

	requireAssertionFailed(t, execAssert(t, "assert.contains", map[string]any{"haystack": []any{"x"}, "needle": "y"}))

	err := execAssert(t, "assert.contains", map[string]any{"haystack": 12, "needle": 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAssertMatches(t *testing.T) {
	assert.NoError(t, execAssert(t, "assert.matches", map[string]any{"value": "st-0042", "pattern": `^st-\d+$`}))
	requireAssertionFailed(t, execAssert(t, "assert.matches", map[string]any{"value": "tutor", "pattern": `^st-`}))

	err := execAssert(t, "assert.matches", map[string]any{"value": "x", "pattern": "("})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAssertSchema(t *testing.T) {
	s := map[string]any{
		"type":     "object",
		"required": []any{"id"},
		"properties": map[string]any{
			"id": map[string]any{"type": "string"},
		},
	}
	assert.NoError(t, execAssert(t, "assert.schema", map[string]any{"data": map[string]any{"id": "st-1"}, "schema": s}))
	requireAssertionFailed(t, execAssert(t, "assert.schema", map[string]any{"data": map[string]any{"id": 5}, "schema": s}))

	err := execAssert(t, "assert.schema", map[string]any{"data": "flat", "schema": s})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAssertActions_NoValidator(t *testing.T) {
	for _, a := range AssertActions(nil) {
		assert.NotEqual(t, "assert.schema", a.Name())
	}
}
