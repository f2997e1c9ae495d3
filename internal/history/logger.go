// Package history records run lifecycle entries into the event store and
// mirrors them to the process log.
package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/logging"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

const defaultWriteTimeout = 2 * time.Second

// Logger implements engine.ExecutionLogger on top of a store.EventStore.
// Writes are best-effort: a store failure is logged and never reaches the run.
type Logger struct {
	events       store.EventStore
	log          *slog.Logger
	writeTimeout time.Duration
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// NewLogger creates a Logger. A nil events store makes it log-only.
func NewLogger(events store.EventStore, log *slog.Logger, opts ...Option) *Logger {
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{events: events, log: log, writeTimeout: defaultWriteTimeout}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Logger) LogWorkflowStart(ctx context.Context, workflowID string, ts time.Time) {
	l.log.InfoContext(ctx, "workflow started")
	l.append(ctx, workflowID, "", schema.HistoryWorkflowStarted, nil, ts)
}

func (l *Logger) LogWorkflowComplete(ctx context.Context, workflowID string, result *schema.ExecutionResult, ts time.Time) {
	attrs := []any{}
	var payload map[string]any
	if result != nil {
		attrs = append(attrs, "executed_steps", len(result.ExecutedSteps))
		payload = map[string]any{
			"success":        result.Success,
			"executed_steps": result.ExecutedSteps,
		}
		if result.Metrics != nil {
			payload["metrics"] = result.Metrics
			attrs = append(attrs, "duration_ms", result.Metrics.TotalExecutionTime)
		}
	}
	l.log.InfoContext(ctx, "workflow completed", attrs...)
	l.append(ctx, workflowID, "", schema.HistoryWorkflowCompleted, payload, ts)
}

func (l *Logger) LogWorkflowError(ctx context.Context, workflowID string, err error, ts time.Time) {
	l.log.ErrorContext(ctx, "workflow error", "error", schema.Message(err), "code", schema.ErrorCode(err))
	l.append(ctx, workflowID, "", schema.HistoryWorkflowError, errorPayload(err), ts)
}

func (l *Logger) LogStepStart(ctx context.Context, workflowID, stepID string, ts time.Time) {
	l.log.DebugContext(ctx, "step started")
	l.append(ctx, workflowID, stepID, schema.HistoryStepStarted, nil, ts)
}

func (l *Logger) LogStepComplete(ctx context.Context, workflowID, stepID string, result *schema.StepExecutionResult, ts time.Time) {
	var payload map[string]any
	if result != nil {
		l.log.DebugContext(ctx, "step completed", "execution_time_ms", result.ExecutionTime)
		payload = map[string]any{
			"success":           result.Success,
			"execution_time_ms": result.ExecutionTime,
		}
		if result.Result != nil {
			payload["result"] = result.Result
		}
		if len(result.Variables) > 0 {
			payload["variables"] = result.Variables
		}
	}
	l.append(ctx, workflowID, stepID, schema.HistoryStepCompleted, payload, ts)
}

func (l *Logger) LogStepError(ctx context.Context, workflowID, stepID string, err error, ts time.Time) {
	l.log.WarnContext(ctx, "step error", "error", schema.Message(err), "code", schema.ErrorCode(err))
	l.append(ctx, workflowID, stepID, schema.HistoryStepError, errorPayload(err), ts)
}

// ExecutionHistory returns every recorded entry for a workflow across runs,
// oldest first.
func (l *Logger) ExecutionHistory(ctx context.Context, workflowID string) ([]*store.Event, error) {
	if l.events == nil {
		return nil, nil
	}
	return l.events.ListEvents(ctx, store.EventFilter{WorkflowID: workflowID})
}

// RunHistory returns the entries of a single run in sequence order.
func (l *Logger) RunHistory(ctx context.Context, executionID string) ([]*store.Event, error) {
	if l.events == nil {
		return nil, nil
	}
	return l.events.GetEvents(ctx, executionID, 0)
}

func (l *Logger) append(ctx context.Context, workflowID, stepID, typ string, payload map[string]any, ts time.Time) {
	if l.events == nil {
		return
	}
	execID := logging.ExecutionID(ctx)
	if execID == "" {
		l.log.WarnContext(ctx, "history entry without execution id dropped", "type", typ)
		return
	}

	ev := &store.Event{
		ExecutionID: execID,
		WorkflowID:  workflowID,
		StepID:      stepID,
		Type:        typ,
		Timestamp:   ts,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			// Step results are arbitrary values; keep the entry without them.
			delete(payload, "result")
			delete(payload, "variables")
			raw, _ = json.Marshal(payload)
		}
		ev.Payload = raw
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.events.AppendEvent(wctx, ev); err != nil {
		l.log.ErrorContext(ctx, "history write failed", "type", typ, "error", err)
	}
}

func errorPayload(err error) map[string]any {
	p := map[string]any{"error": schema.Message(err)}
	if code := schema.ErrorCode(err); code != "" {
		p["code"] = code
	}
	return p
}

var _ engine.ExecutionLogger = (*Logger)(nil)
