package engine

import (
	"sync"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// TransitionHook is called before or after a run status transition. An error
// from a before hook aborts the transition.
type TransitionHook func(ec *ExecutionContext, from, to schema.ExecutionStatus) error

type runHookKey struct {
	from, to schema.ExecutionStatus
}

// ValidRunTransitions defines the allowed status transitions of a run.
var ValidRunTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending:   {schema.ExecutionRunning, schema.ExecutionFailed},
	schema.ExecutionRunning:   {schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}

// RunFSM guards status changes of an ExecutionContext.
type RunFSM struct {
	mu     sync.RWMutex
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates an FSM with no hooks.
func NewRunFSM() *RunFSM {
	return &RunFSM{
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before the given transition.
func (f *RunFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after the given transition.
func (f *RunFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves ec to status to. A transition to the current non-terminal
// status is a no-op.
func (f *RunFSM) Transition(ec *ExecutionContext, to schema.ExecutionStatus) error {
	from := ec.Status()
	if from == to && !from.IsTerminal() {
		return nil
	}
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": ec.WorkflowID(), "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	f.mu.RLock()
	before := f.before[key]
	after := f.after[key]
	f.mu.RUnlock()

	for _, hook := range before {
		if err := hook(ec, from, to); err != nil {
			return err
		}
	}

	ec.UpdateState(StatePatch{Status: &to})

	for _, hook := range after {
		if err := hook(ec, from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
