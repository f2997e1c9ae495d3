// Package mcp exposes the engine as Model Context Protocol tools so agents
// can run workflows, inspect history and check breaker health.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Runner is the part of the engine the tools drive.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, opts engine.Options) *schema.ExecutionResult
	Submit(ctx context.Context, workflowID string, opts engine.Options, onDone func(*schema.ExecutionResult)) (string, error)
	InFlight() []engine.RunInfo
}

// Validator checks workflow definitions before they are stored.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Engine    Runner
	Store     store.Store
	Breakers  *resilience.Registry
	Validator Validator
	Hub       streaming.EventHub
	Version   string
	Logger    *slog.Logger
}

// Server wraps an MCP server with the engine's tool handlers.
type Server struct {
	deps      ServerDeps
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  AgentNotifier
	mcpServer *server.MCPServer

	// watchers maps async execution IDs to the agent that started them.
	watchMu  sync.Mutex
	watchers map[string]string
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		deps:     deps,
		logger:   logger,
		sessions: NewSessionRegistry(),
		watchers: make(map[string]string),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		if n := s.sessions.Remove(session.SessionID()); n > 0 {
			s.logger.Debug("mcp session closed", "session_id", session.SessionID(), "agents", n)
		}
	})

	mcpSrv := server.NewMCPServer(
		"jaqflow",
		deps.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("jaqflow runs jaqEdu workflows. Use jaqflow.execute to run a workflow, "+
			"jaqflow.status to follow a run, jaqflow.history to read past executions and their events, "+
			"jaqflow.workflows to list or inspect definitions, jaqflow.define to register one and "+
			"jaqflow.breakers to check circuit breaker health."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP transport for mounting on the API
// listener.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: workflowsTool(), Handler: s.handleWorkflows},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: breakersTool(), Handler: s.handleBreakers},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("jaqflow.execute",
		mcp.WithDescription("Execute a stored workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("variables", mcp.Description("Initial run variables")),
		mcp.WithString("timeout", mcp.Description("Per-step timeout as a Go duration, e.g. 30s")),
		mcp.WithBoolean("async", mcp.Description("Return immediately with an execution ID")),
		mcp.WithString("agent_id", mcp.Description("Agent to notify when an async run finishes")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("jaqflow.status",
		mcp.WithDescription("Get the status of a workflow execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID returned by jaqflow.execute")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("jaqflow.history",
		mcp.WithDescription("Read execution history"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("executions", "events"),
			mcp.Description("Executions of a workflow, or the event log"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, execution_id, step_id, event_type, success, since, limit)")),
	)
}

func workflowsTool() mcp.Tool {
	return mcp.NewTool("jaqflow.workflows",
		mcp.WithDescription("List workflow definitions or fetch one"),
		mcp.WithString("workflow_id", mcp.Description("Return this workflow with its revisions")),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, name, limit, offset)")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("jaqflow.define",
		mcp.WithDescription("Create or update a workflow definition"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition object (id, name, status, steps)")),
		mcp.WithString("agent_id", mcp.Description("ID of the defining agent")),
	)
}

func breakersTool() mcp.Tool {
	return mcp.NewTool("jaqflow.breakers",
		mcp.WithDescription("Inspect or reset circuit breakers"),
		mcp.WithString("action",
			mcp.Enum("list", "reset"),
			mcp.Description("list (default) or reset all breakers"),
		),
	)
}
