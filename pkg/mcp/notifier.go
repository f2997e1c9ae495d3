package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// AgentNotifier pushes notifications to connected agents.
type AgentNotifier interface {
	Notify(ctx context.Context, agentID string, payload map[string]any) error
}

// MCPNotifier implements AgentNotifier using MCP server push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the agent's session.
// Best-effort: returns nil if the agent is not connected.
func (n *MCPNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// watch remembers which agent started an async run.
func (s *Server) watch(executionID, agentID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers[executionID] = agentID
}

// unwatch returns and forgets the agent watching a run.
func (s *Server) unwatch(executionID string) (string, bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	agentID, ok := s.watchers[executionID]
	delete(s.watchers, executionID)
	return agentID, ok
}

// ForwardCompletions subscribes to the hub and notifies agents when their
// async runs complete or fail. It blocks until ctx is cancelled.
func (s *Server) ForwardCompletions(ctx context.Context) error {
	if s.deps.Hub == nil {
		<-ctx.Done()
		return nil
	}
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionError},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.forward(ctx, ev)
		}
	}
}

func (s *Server) forward(ctx context.Context, ev streaming.StreamEvent) {
	agentID, ok := s.unwatch(ev.ExecutionID)
	if !ok {
		return
	}
	payload := map[string]any{
		"event":        ev.EventType,
		"workflow_id":  ev.WorkflowID,
		"execution_id": ev.ExecutionID,
		"data":         ev.Payload,
	}
	if err := s.notifier.Notify(ctx, agentID, payload); err != nil {
		s.logger.Warn("agent notification failed",
			slog.String("agent_id", agentID),
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()))
	}
}
