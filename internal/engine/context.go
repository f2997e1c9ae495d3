package engine

import (
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// StatePatch is a partial update applied by UpdateState. Nil fields are left
// untouched; Variables are merged key by key.
type StatePatch struct {
	Status       *schema.ExecutionStatus
	CurrentStep  *string
	Variables    map[string]any
	ExecutedStep string
}

// ExecutionContext holds the mutable state of a single run. One instance is
// shared by all steps of a run and never across runs.
type ExecutionContext struct {
	mu    sync.RWMutex
	state schema.ExecutionState
}

// NewExecutionContext creates a pending context seeded with vars.
func NewExecutionContext(workflowID, executionID string, vars map[string]any) *ExecutionContext {
	ec := &ExecutionContext{
		state: schema.ExecutionState{
			WorkflowID:    workflowID,
			ExecutionID:   executionID,
			Status:        schema.ExecutionPending,
			Variables:     make(map[string]any, len(vars)),
			StartTime:     time.Now().UTC(),
			ExecutedSteps: []string{},
		},
	}
	for k, v := range vars {
		ec.state.Variables[k] = deepCopy(v)
	}
	return ec
}

func (c *ExecutionContext) WorkflowID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.WorkflowID
}

func (c *ExecutionContext) ExecutionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ExecutionID
}

func (c *ExecutionContext) CurrentStep() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.CurrentStep
}

func (c *ExecutionContext) Status() schema.ExecutionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status
}

// GetVariable returns the named variable.
func (c *ExecutionContext) GetVariable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state.Variables[name]
	return v, ok
}

// SetVariable sets a variable visible to all later steps of the run.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Variables[name] = value
}

// Variables returns a copy of the variable map.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopyMap(c.state.Variables)
}

// HasExecuted reports whether stepID completed in this run.
func (c *ExecutionContext) HasExecuted(stepID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.state.ExecutedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// ExecutionState returns a snapshot that is safe to retain.
func (c *ExecutionContext) ExecutionState() schema.ExecutionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyState(c.state)
}

// UpdateState applies a partial update. It is the only mutation path for
// status, current step and executed steps.
func (c *ExecutionContext) UpdateState(p StatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Status != nil {
		c.state.Status = *p.Status
	}
	if p.CurrentStep != nil {
		c.state.CurrentStep = *p.CurrentStep
	}
	for k, v := range p.Variables {
		c.state.Variables[k] = v
	}
	if p.ExecutedStep != "" {
		c.state.ExecutedSteps = append(c.state.ExecutedSteps, p.ExecutedStep)
	}
}

// AddError appends an error record. A zero timestamp is filled with now.
func (c *ExecutionContext) AddError(rec schema.ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Errors = append(c.state.Errors, rec)
}

// Errors returns a copy of the recorded errors.
func (c *ExecutionContext) Errors() []schema.ErrorRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.ErrorRecord, len(c.state.Errors))
	copy(out, c.state.Errors)
	return out
}

// Clone returns an independent deep copy. Mutations to the clone never
// affect the original.
func (c *ExecutionContext) Clone() *ExecutionContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &ExecutionContext{state: copyState(c.state)}
}

// Reset returns the context to a fresh pending state for the same run IDs.
func (c *ExecutionContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = schema.ExecutionState{
		WorkflowID:    c.state.WorkflowID,
		ExecutionID:   c.state.ExecutionID,
		Status:        schema.ExecutionPending,
		Variables:     make(map[string]any),
		StartTime:     time.Now().UTC(),
		ExecutedSteps: []string{},
	}
}

func copyState(s schema.ExecutionState) schema.ExecutionState {
	out := s
	out.Variables = deepCopyMap(s.Variables)
	out.ExecutedSteps = append([]string{}, s.ExecutedSteps...)
	if s.Errors != nil {
		out.Errors = append([]schema.ErrorRecord(nil), s.Errors...)
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

// deepCopy copies the JSON-shaped containers (maps and slices) a variable can
// hold. Other values are treated as immutable.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
