package engine

import (
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// DAG is the in-memory dependency graph of a workflow, built once per run.
type DAG struct {
	Steps   map[string]schema.WorkflowStep // step ID → definition
	Edges   map[string][]string            // step ID → dependencies (depends_on)
	Reverse map[string][]string            // step ID → dependents
	Sorted  []string                       // execution order
	Levels  [][]string                     // steps grouped by dependency depth
}

// ParseDAG validates a workflow's step graph and computes its execution order
// using Kahn's algorithm. Among steps whose dependencies are satisfied, the one
// with the lowest Order runs first; equal Order falls back to step ID.
func ParseDAG(wf *schema.Workflow) (*DAG, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	dag := &DAG{
		Steps:   make(map[string]schema.WorkflowStep, len(wf.Steps)),
		Edges:   make(map[string][]string, len(wf.Steps)),
		Reverse: make(map[string][]string, len(wf.Steps)),
	}

	for i, step := range wf.Steps {
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := dag.Steps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		if !step.Type.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has unknown type: %q", step.ID, step.Type).WithStep(step.ID)
		}
		dag.Steps[step.ID] = step
	}

	for _, step := range wf.Steps {
		id := step.ID
		seen := make(map[string]bool, len(step.DependsOn))
		deps := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "step %s depends on itself", id).WithStep(id)
			}
			if _, exists := dag.Steps[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s depends on non-existent step: %s", id, dep).WithStep(id)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
		dag.Edges[id] = deps
	}

	inDegree := make(map[string]int, len(dag.Steps))
	ready := make([]string, 0)
	for _, step := range wf.Steps {
		inDegree[step.ID] = len(dag.Edges[step.ID])
		if inDegree[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	less := func(a, b string) bool {
		sa, sb := dag.Steps[a], dag.Steps[b]
		if sa.Order != sb.Order {
			return sa.Order < sb.Order
		}
		return a < b
	}

	sorted := make([]string, 0, len(dag.Steps))
	for len(ready) > 0 {
		sortSteps(ready, less)
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)

		for _, dep := range dag.Reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(sorted) != len(dag.Steps) {
		var stuck []string
		for _, step := range wf.Steps {
			if inDegree[step.ID] > 0 {
				stuck = append(stuck, step.ID)
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "workflow %s contains a dependency cycle", wf.ID).
			WithDetails(map[string]any{"steps": stuck})
	}

	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)
	return dag, nil
}

// computeLevels groups steps by dependency depth. Steps on the same level do
// not depend on each other.
func computeLevels(dag *DAG) [][]string {
	if len(dag.Sorted) == 0 {
		return nil
	}
	depth := make(map[string]int, len(dag.Steps))
	maxLevel := 0
	for _, id := range dag.Sorted {
		d := 0
		for _, dep := range dag.Edges[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// sortSteps is an insertion sort; ready sets are small.
func sortSteps(s []string, less func(a, b string) bool) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && less(key, s[j]) {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
