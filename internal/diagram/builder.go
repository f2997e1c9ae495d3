package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Virtual node IDs bracketing the step graph.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Build lays out a workflow's dependency graph. When trace is non-nil each
// step is annotated with its state in that execution; steps the run never
// reached are pending while it is still going and skipped once it finished.
func Build(wf *schema.Workflow, trace *store.ExecutionTrace) (*DiagramModel, error) {
	dag, err := engine.ParseDAG(wf)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse DAG: %w", err)
	}

	nodes := make([]*Node, 0, len(dag.Sorted)+2)
	nodes = append(nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, id := range dag.Sorted {
		step := dag.Steps[id]
		node := &Node{ID: id, Label: nodeLabel(step), Kind: NodeKind(step.Type)}
		if trace != nil {
			node.Status = overlay(trace, id)
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title:  title(wf),
		Nodes:  nodes,
		Edges:  buildEdges(dag),
		Levels: buildLevels(dag),
	}, nil
}

// nodeLabel puts the step ID on the first line and the most telling part of
// its config on the second.
func nodeLabel(step schema.WorkflowStep) string {
	detail := ""
	switch step.Type {
	case schema.StepTypeAction:
		var cfg schema.ActionConfig
		if json.Unmarshal(step.Config, &cfg) == nil {
			detail = cfg.Action
		}
	case schema.StepTypeTransformation:
		var cfg schema.TransformationConfig
		if json.Unmarshal(step.Config, &cfg) == nil {
			detail = cfg.Engine
			if detail == "" {
				detail = "jq"
			}
		}
	case schema.StepTypeTrigger:
		var cfg schema.TriggerConfig
		if json.Unmarshal(step.Config, &cfg) == nil {
			detail = cfg.Schedule
		}
	case schema.StepTypeDelay:
		var cfg schema.DelayConfig
		if json.Unmarshal(step.Config, &cfg) == nil {
			detail = cfg.Duration
		}
	}
	if detail == "" {
		return step.ID
	}
	return fmt.Sprintf("%s\n(%s)", step.ID, detail)
}

func overlay(trace *store.ExecutionTrace, stepID string) *StatusOverlay {
	st, ok := trace.Steps[stepID]
	if !ok {
		switch trace.Status {
		case schema.ExecutionPending, schema.ExecutionRunning:
			return &StatusOverlay{Status: StatusPending}
		default:
			return &StatusOverlay{Status: StatusSkipped}
		}
	}
	ov := &StatusOverlay{Status: st.Status, DurationMs: st.DurationMs}
	if len(st.Error) > 0 {
		ov.Error = errorText(st.Error)
	}
	return ov
}

// errorText pulls the message out of a step error payload, which is either a
// bare string or an object with an "error" field.
func errorText(raw json.RawMessage) string {
	var msg string
	if json.Unmarshal(raw, &msg) == nil {
		return msg
	}
	var obj struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Error != "" {
		return obj.Error
	}
	return string(raw)
}

// buildEdges links every root to the start node and every leaf to the end node.
func buildEdges(dag *engine.DAG) []Edge {
	var edges []Edge
	for _, id := range dag.Sorted {
		deps := dag.Edges[id]
		if len(deps) == 0 {
			edges = append(edges, Edge{From: StartID, To: id})
		}
		for _, dep := range deps {
			edges = append(edges, Edge{From: dep, To: id})
		}
	}
	for _, id := range dag.Sorted {
		if len(dag.Reverse[id]) == 0 {
			edges = append(edges, Edge{From: id, To: EndID})
		}
	}
	if len(dag.Sorted) == 0 {
		edges = append(edges, Edge{From: StartID, To: EndID})
	}
	return edges
}

func buildLevels(dag *engine.DAG) [][]string {
	levels := make([][]string, 0, len(dag.Levels)+2)
	levels = append(levels, []string{StartID})
	for _, level := range dag.Levels {
		levels = append(levels, append([]string(nil), level...))
	}
	return append(levels, []string{EndID})
}

func title(wf *schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return wf.ID
}
