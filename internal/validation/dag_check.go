package validation

import (
	"fmt"
	"sort"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// validateDAG runs Kahn's algorithm over the dependency graph. A cycle is an
// error listing the steps that could never become ready. Dependencies that
// contradict the Order hint produce a warning, since Order only breaks ties.
func validateDAG(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	steps := make(map[string]schema.WorkflowStep, len(wf.Steps))
	for _, s := range wf.Steps {
		steps[s.ID] = s
	}

	inDegree := make(map[string]int, len(steps))
	reverse := make(map[string][]string, len(steps))
	for _, s := range wf.Steps {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if _, ok := steps[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[s.ID]++
			reverse[dep] = append(reverse[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for id := range steps {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range reverse[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(steps) {
		stuck := make([]string, 0, len(steps)-visited)
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("steps", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle among steps %v", stuck))
		return result
	}

	for i, s := range wf.Steps {
		for _, dep := range s.DependsOn {
			if d, ok := steps[dep]; ok && d.Order > s.Order {
				result.AddWarning(fmt.Sprintf("steps[%d].order", i), schema.ErrCodeValidation,
					fmt.Sprintf("step %q has order %d but depends on %q with order %d; dependencies win",
						s.ID, s.Order, dep, d.Order))
			}
		}
	}

	return result
}
