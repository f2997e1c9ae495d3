package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

func rawConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func linearWorkflow(t *testing.T) *schema.Workflow {
	return &schema.Workflow{
		ID:   "etl",
		Name: "ETL Pipeline",
		Steps: []schema.WorkflowStep{
			{ID: "fetch", Type: schema.StepTypeAction, Order: 1,
				Config: rawConfig(t, schema.ActionConfig{Action: "http.request"})},
			{ID: "transform", Type: schema.StepTypeTransformation, Order: 2, DependsOn: []string{"fetch"},
				Config: rawConfig(t, schema.TransformationConfig{Expression: ".items", OutputVar: "items"})},
			{ID: "store", Type: schema.StepTypeAction, Order: 3, DependsOn: []string{"transform"},
				Config: rawConfig(t, schema.ActionConfig{Action: "log"})},
		},
	}
}

func diamondWorkflow(t *testing.T) *schema.Workflow {
	return &schema.Workflow{
		ID: "fan",
		Steps: []schema.WorkflowStep{
			{ID: "start", Type: schema.StepTypeTrigger, Order: 1,
				Config: rawConfig(t, schema.TriggerConfig{Schedule: "*/5 * * * *"})},
			{ID: "check", Type: schema.StepTypeCondition, Order: 2, DependsOn: []string{"start"},
				Config: rawConfig(t, schema.ConditionConfig{Expression: "true"})},
			{ID: "wait", Type: schema.StepTypeDelay, Order: 3, DependsOn: []string{"start"},
				Config: rawConfig(t, schema.DelayConfig{Duration: "10ms"})},
			{ID: "join", Type: schema.StepTypeAction, Order: 4, DependsOn: []string{"check", "wait"},
				Config: rawConfig(t, schema.ActionConfig{Action: "log"})},
		},
	}
}

func TestBuildLinearWorkflow(t *testing.T) {
	model, err := Build(linearWorkflow(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "ETL Pipeline", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, StartID, model.Nodes[0].ID)
	assert.Equal(t, EndID, model.Nodes[4].ID)
	assert.Equal(t, []string{"fetch", "transform", "store"},
		[]string{model.Nodes[1].ID, model.Nodes[2].ID, model.Nodes[3].ID})

	assert.Equal(t, NodeKindAction, model.Node("fetch").Kind)
	assert.Equal(t, NodeKindTransformation, model.Node("transform").Kind)
	assert.Equal(t, "fetch\n(http.request)", model.Node("fetch").Label)
	assert.Equal(t, "transform\n(jq)", model.Node("transform").Label)

	assert.Equal(t, []Edge{
		{From: StartID, To: "fetch"},
		{From: "fetch", To: "transform"},
		{From: "transform", To: "store"},
		{From: "store", To: EndID},
	}, model.Edges)
	assert.Equal(t, [][]string{{StartID}, {"fetch"}, {"transform"}, {"store"}, {EndID}}, model.Levels)

	for _, n := range model.Nodes {
		assert.Nil(t, n.Status, n.ID)
	}
}

func TestBuildDiamondWorkflow(t *testing.T) {
	model, err := Build(diamondWorkflow(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "fan", model.Title)
	assert.Equal(t, NodeKindTrigger, model.Node("start").Kind)
	assert.Equal(t, NodeKindCondition, model.Node("check").Kind)
	assert.Equal(t, NodeKindDelay, model.Node("wait").Kind)
	assert.Equal(t, "start\n(*/5 * * * *)", model.Node("start").Label)
	assert.Equal(t, "wait\n(10ms)", model.Node("wait").Label)
	assert.Equal(t, "check", model.Node("check").Label)

	require.Len(t, model.Levels, 5)
	assert.ElementsMatch(t, []string{"check", "wait"}, model.Levels[2])
	assert.Contains(t, model.Edges, Edge{From: "check", To: "join"})
	assert.Contains(t, model.Edges, Edge{From: "wait", To: "join"})
	assert.Contains(t, model.Edges, Edge{From: "join", To: EndID})
	assert.NotContains(t, model.Edges, Edge{From: "check", To: EndID})
}

func TestBuildEmptyWorkflow(t *testing.T) {
	model, err := Build(&schema.Workflow{ID: "empty"}, nil)
	require.NoError(t, err)

	assert.Len(t, model.Nodes, 2)
	assert.Equal(t, []Edge{{From: StartID, To: EndID}}, model.Edges)
}

func TestBuildRejectsCycle(t *testing.T) {
	wf := &schema.Workflow{
		ID: "loop",
		Steps: []schema.WorkflowStep{
			{ID: "a", Type: schema.StepTypeAction, DependsOn: []string{"b"}},
			{ID: "b", Type: schema.StepTypeAction, DependsOn: []string{"a"}},
		},
	}
	_, err := Build(wf, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestBuildWithFailedTrace(t *testing.T) {
	trace := &store.ExecutionTrace{
		ExecutionID: "exec-1",
		WorkflowID:  "etl",
		Status:      schema.ExecutionFailed,
		Steps: map[string]*store.StepTrace{
			"fetch":     {StepID: "fetch", Status: store.StepCompleted, DurationMs: 42},
			"transform": {StepID: "transform", Status: store.StepFailed, Error: json.RawMessage(`{"error":"bad jq"}`)},
		},
	}

	model, err := Build(linearWorkflow(t), trace)
	require.NoError(t, err)

	assert.Equal(t, &StatusOverlay{Status: "completed", DurationMs: 42}, model.Node("fetch").Status)
	assert.Equal(t, &StatusOverlay{Status: "failed", Error: "bad jq"}, model.Node("transform").Status)
	assert.Equal(t, StatusSkipped, model.Node("store").Status.Status)
	assert.Nil(t, model.Node(StartID).Status)
}

func TestBuildWithRunningTrace(t *testing.T) {
	trace := &store.ExecutionTrace{
		Status: schema.ExecutionRunning,
		Steps: map[string]*store.StepTrace{
			"fetch": {StepID: "fetch", Status: store.StepRunning},
		},
	}

	model, err := Build(linearWorkflow(t), trace)
	require.NoError(t, err)

	assert.Equal(t, "running", model.Node("fetch").Status.Status)
	assert.Equal(t, StatusPending, model.Node("transform").Status.Status)
	assert.Equal(t, StatusPending, model.Node("store").Status.Status)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "boom", errorText(json.RawMessage(`"boom"`)))
	assert.Equal(t, "boom", errorText(json.RawMessage(`{"error":"boom","stepId":"a"}`)))
	assert.Equal(t, `{"code":1}`, errorText(json.RawMessage(`{"code":1}`)))
}
