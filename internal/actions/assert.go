package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/jaqedu/jaqflow/internal/validation"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// AssertActions returns the assertion actions. A nil validator omits assert.schema.
func AssertActions(validator *validation.JSONSchemaValidator) []Action {
	all := []Action{
		&assertAction{name: "assert.equals", required: []string{"expected", "actual"}, check: checkEquals,
			desc: "Assert that 'actual' deeply equals 'expected'."},
		&assertAction{name: "assert.contains", required: []string{"haystack", "needle"}, check: checkContains,
			desc: "Assert that a string or array contains 'needle'."},
		&assertAction{name: "assert.matches", required: []string{"value", "pattern"}, check: checkMatches,
			desc: "Assert that 'value' matches the regular expression 'pattern'."},
	}
	if validator != nil {
		all = append(all, &assertAction{name: "assert.schema", required: []string{"data", "schema"},
			check: schemaCheck(validator), desc: "Assert that 'data' conforms to a JSON Schema."})
	}
	return all
}

// checkFunc returns a failure message when the assertion does not hold, or an
// error when the params cannot be evaluated.
type checkFunc func(params map[string]any) (failure string, err error)

type assertAction struct {
	name     string
	desc     string
	required []string
	check    checkFunc
}

func (a *assertAction) Name() string         { return a.name }
func (a *assertAction) Schema() ActionSchema { return ActionSchema{Description: a.desc} }

func (a *assertAction) Validate(params map[string]any) error {
	for _, key := range a.required {
		if _, ok := params[key]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s requires '%s' parameter", a.name, key)
		}
	}
	return nil
}

func (a *assertAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	if err := a.Validate(input.Params); err != nil {
		return nil, err
	}
	failure, err := a.check(input.Params)
	if err != nil {
		return nil, err
	}
	if failure != "" {
		if msg := stringParam(input.Params, "message", ""); msg != "" {
			failure = msg
		}
		details := make(map[string]any, len(a.required))
		for _, key := range a.required {
			details[key] = input.Params[key]
		}
		return nil, schema.NewError(schema.ErrCodeAssertionFailed, failure).WithDetails(details)
	}
	return jsonOutput(a.name, map[string]any{"pass": true})
}

func checkEquals(p map[string]any) (string, error) {
	if reflect.DeepEqual(normalizeJSON(p["expected"]), normalizeJSON(p["actual"])) {
		return "", nil
	}
	return "assertion failed: values are not equal", nil
}

func checkContains(p map[string]any) (string, error) {
	switch hs := p["haystack"].(type) {
	case string:
		if strings.Contains(hs, fmt.Sprint(p["needle"])) {
			return "", nil
		}
	case []any:
		needle := normalizeJSON(p["needle"])
		for _, item := range hs {
			if reflect.DeepEqual(normalizeJSON(item), needle) {
				return "", nil
			}
		}
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"assert.contains: haystack must be string or array, got %T", hs)
	}
	return "assertion failed: value not found", nil
}

func checkMatches(p map[string]any) (string, error) {
	re, err := regexp.Compile(stringParam(p, "pattern", ""))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "assert.matches: invalid pattern: %v", err)
	}
	if re.MatchString(fmt.Sprint(p["value"])) {
		return "", nil
	}
	return "assertion failed: value does not match pattern", nil
}

func schemaCheck(v *validation.JSONSchemaValidator) checkFunc {
	return func(p map[string]any) (string, error) {
		data, ok := p["data"].(map[string]any)
		if !ok {
			return "", schema.NewError(schema.ErrCodeValidation, "assert.schema: data must be an object")
		}
		raw, err := json.Marshal(p["schema"])
		if err != nil {
			return "", schema.NewError(schema.ErrCodeValidation, "assert.schema: schema is not JSON-encodable").WithCause(err)
		}
		if err := v.ValidateInput(data, raw); err != nil {
			return "assertion failed: " + schema.Message(err), nil
		}
		return "", nil
	}
}

// normalizeJSON converts numeric types to float64 so values decoded from JSON
// compare equal to values built in Go.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}
