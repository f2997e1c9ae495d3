// Package api serves the engine's HTTP surface for admin dashboards and
// deployment tooling: health probes, metrics, workflow management,
// executions and their history, breakers, backups and blue-green control.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jaqedu/jaqflow/internal/backup"
	"github.com/jaqedu/jaqflow/internal/config"
	"github.com/jaqedu/jaqflow/internal/deploy"
	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/lifecycle"
	"github.com/jaqedu/jaqflow/internal/metrics"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Runner is the part of the engine the API drives.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, opts engine.Options) *schema.ExecutionResult
	Submit(ctx context.Context, workflowID string, opts engine.Options, onDone func(*schema.ExecutionResult)) (string, error)
	InFlight() []engine.RunInfo
}

// Tracer rebuilds a run from its event log.
type Tracer interface {
	Replay(ctx context.Context, executionID string) (*store.ExecutionTrace, error)
}

// Validator checks workflow definitions before they are stored.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

// Deps holds the server's collaborators. Store and Engine are required; a nil
// optional dependency disables its routes with 501.
type Deps struct {
	Store     store.Store
	Engine    Runner
	Traces    Tracer
	Validator Validator
	Hub       streaming.EventHub
	Breakers  *resilience.Registry
	Health    *lifecycle.Health
	Metrics   *metrics.Collector
	Backups   *backup.Manager
	Deploy    *deploy.BlueGreen
	Config    *config.Manager
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the routed handler wrapped in request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Probes.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/revisions", s.handleWorkflowRevisions)
	mux.HandleFunc("GET /api/workflows/{id}/history", s.handleWorkflowHistory)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)
	mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecute)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/running", s.handleRunning)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)
	mux.HandleFunc("GET /api/executions/{id}/trace", s.handleExecutionTrace)

	// Operations.
	mux.HandleFunc("GET /api/breakers", s.handleBreakers)
	mux.HandleFunc("POST /api/breakers/reset", s.handleResetBreakers)
	mux.HandleFunc("DELETE /api/breakers/{name}", s.handleRemoveBreaker)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config/rollback", s.handleRollbackConfig)
	mux.HandleFunc("GET /api/backups", s.handleListBackups)
	mux.HandleFunc("POST /api/backups", s.handleCreateBackup)
	mux.HandleFunc("POST /api/backups/{id}/validate", s.handleValidateBackup)
	mux.HandleFunc("POST /api/backups/{id}/restore", s.handleRestoreBackup)
	mux.HandleFunc("GET /api/deploy", s.handleDeployStatus)
	mux.HandleFunc("POST /api/deploy/switch", s.handleDeploySwitch)
	mux.HandleFunc("POST /api/deploy/rollback", s.handleDeployRollback)
	mux.HandleFunc("PUT /api/deploy/traffic", s.handleDeployTraffic)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)

	return s.instrument(mux)
}
