// Package steps implements the step executors behind the engine: one handler
// per step type, selected from a table at execution time.
package steps

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/expressions"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Handler executes one step type. Handlers return variables to set through
// the result; they never mutate the execution context.
type Handler interface {
	Type() schema.StepType
	Validate(step schema.WorkflowStep) error
	Execute(ctx context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error)
}

// Dispatcher is the engine's StepExecutor. It checks prerequisites, routes
// each step to the handler registered for its type and tracks metrics.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[schema.StepType]Handler

	metricsMu sync.Mutex
	metrics   schema.ExecutorMetrics
}

// NewDispatcher creates a dispatcher with the given handlers registered.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[schema.StepType]Handler, len(handlers))}
	for _, h := range handlers {
		d.Register(h)
	}
	return d
}

// Register adds or replaces the handler for h.Type().
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Type()] = h
}

func (d *Dispatcher) handler(t schema.StepType) (Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no executor registered for step type %q", t)
	}
	return h, nil
}

// StepType names the dispatcher; it serves every registered type.
func (d *Dispatcher) StepType() string { return "dispatch" }

// ValidateStep checks the step's type and its type-specific config.
func (d *Dispatcher) ValidateStep(step schema.WorkflowStep) error {
	if step.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step id is empty")
	}
	h, err := d.handler(step.Type)
	if err != nil {
		return err
	}
	if _, err := requiredVars(step); err != nil {
		return err
	}
	return h.Validate(step)
}

// CanExecute reports whether every dependency has executed and every
// variable named in config.requires is set.
func (d *Dispatcher) CanExecute(_ context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (bool, error) {
	for _, dep := range step.DependsOn {
		if !ec.HasExecuted(dep) {
			return false, nil
		}
	}
	requires, err := requiredVars(step)
	if err != nil {
		return false, err
	}
	for _, name := range requires {
		if _, ok := ec.GetVariable(name); !ok {
			return false, nil
		}
	}
	return true, nil
}

// Execute runs the step through its handler and stamps the execution time.
func (d *Dispatcher) Execute(ctx context.Context, step schema.WorkflowStep, ec *engine.ExecutionContext) (*schema.StepExecutionResult, error) {
	h, err := d.handler(step.Type)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := h.Execute(ctx, step, ec)
	elapsed := time.Since(start).Milliseconds()

	ok := err == nil && res != nil && res.Success
	d.record(ok, elapsed)

	if res != nil {
		res.ExecutionTime = elapsed
	}
	return res, err
}

func (d *Dispatcher) record(ok bool, elapsedMs int64) {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()

	m := &d.metrics
	m.TotalSteps++
	if ok {
		m.ExecutedSteps++
	} else {
		m.FailedSteps++
	}
	m.TotalExecutionTime += elapsedMs
	m.AverageExecutionTime = float64(m.TotalExecutionTime) / float64(m.TotalSteps)
}

// ExecutionMetrics returns a snapshot of the cumulative step metrics.
func (d *Dispatcher) ExecutionMetrics() schema.ExecutorMetrics {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	return d.metrics
}

// Cleanup releases per-run resources held by handlers that have any.
func (d *Dispatcher) Cleanup() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, h := range d.handlers {
		if c, ok := h.(interface{ Cleanup() }); ok {
			c.Cleanup()
		}
	}
}

var _ engine.StepExecutor = (*Dispatcher)(nil)

// requiredVars reads the optional config.requires list shared by all step types.
func requiredVars(step schema.WorkflowStep) ([]string, error) {
	if len(step.Config) == 0 {
		return nil, nil
	}
	var cfg struct {
		Requires []string `json:"requires"`
	}
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return nil, invalidConfig(step, err)
	}
	return cfg.Requires, nil
}

// decodeConfig unmarshals the step's config into v. An empty config decodes
// to the zero value.
func decodeConfig(step schema.WorkflowStep, v any) error {
	if len(step.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(step.Config, v); err != nil {
		return invalidConfig(step, err)
	}
	return nil
}

func invalidConfig(step schema.WorkflowStep, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s step %s: invalid config: %v", step.Type, step.ID, err).
		WithStep(step.ID).WithCause(err)
}

// scope builds the expression data for a step: the run's variables plus
// workflow metadata.
func scope(step schema.WorkflowStep, ec *engine.ExecutionContext) map[string]any {
	return expressions.Scope(ec.Variables(), map[string]any{
		"id":           ec.WorkflowID(),
		"execution_id": ec.ExecutionID(),
		"step":         step.ID,
	})
}

func success(result any, vars map[string]any) *schema.StepExecutionResult {
	return &schema.StepExecutionResult{Success: true, Result: result, Variables: vars}
}
