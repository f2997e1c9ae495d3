package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// handleExecute runs a workflow synchronously, or submits it when async is
// set. A failed run is returned as a normal result carrying the error.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	opts := engine.Options{Variables: mcp.ParseStringMap(req, "variables", nil)}
	if raw := req.GetString("timeout", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timeout %q", raw)), nil
		}
		opts.Timeout = d
	}
	agentID := req.GetString("agent_id", "")
	if agentID != "" {
		s.captureSession(ctx, agentID)
	}

	if !req.GetBool("async", false) {
		return marshalResult(s.deps.Engine.ExecuteWorkflow(ctx, workflowID, opts))
	}

	// Registered before submitting so a fast run still notifies.
	opts.ExecutionID = uuid.NewString()
	if agentID != "" {
		s.watch(opts.ExecutionID, agentID)
	}
	execID, err := s.deps.Engine.Submit(context.WithoutCancel(ctx), workflowID, opts, nil)
	if err != nil {
		s.unwatch(opts.ExecutionID)
		return toolError("submit failed", err), nil
	}
	return marshalResult(map[string]any{
		"execution_id": execID,
		"workflow_id":  workflowID,
		"status":       schema.ExecutionRunning,
	})
}

// handleStatus reports a run as running while in flight, otherwise returns
// its persisted record.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	for _, run := range s.deps.Engine.InFlight() {
		if run.ExecutionID == execID {
			return marshalResult(map[string]any{
				"status":       schema.ExecutionRunning,
				"execution_id": run.ExecutionID,
				"workflow_id":  run.WorkflowID,
				"current_step": run.CurrentStep,
				"started_at":   run.StartedAt,
			})
		}
	}
	rec, err := s.deps.Store.GetExecution(ctx, execID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(rec)
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *Server) handleWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("workflow_id", ""); id != "" {
		wf, err := s.deps.Store.FindByID(ctx, id)
		if err != nil {
			return toolError("workflow lookup failed", err), nil
		}
		revs, err := s.deps.Store.WorkflowHistory(ctx, id)
		if err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
			return toolError("revision lookup failed", err), nil
		}
		return marshalResult(map[string]any{"workflow": wf, "revisions": revs})
	}

	filter := mcp.ParseStringMap(req, "filter", nil)
	wf := store.WorkflowFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ws := schema.WorkflowStatus(status)
		if !ws.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", status)), nil
		}
		wf.Status = &ws
	}
	if name, ok := filter["name"].(string); ok {
		wf.Name = name
	}
	workflows, err := s.deps.Store.FindAll(ctx, wf)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

// handleDefine saves a new workflow or updates an existing one with the
// same ID.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	if agentID := req.GetString("agent_id", ""); agentID != "" {
		s.captureSession(ctx, agentID)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateWorkflow(&wf); err != nil {
			return toolError("workflow is invalid", err), nil
		}
	}

	exists, err := s.deps.Store.Exists(ctx, wf.ID)
	if err != nil {
		return toolError("store lookup failed", err), nil
	}
	created := !exists
	if exists {
		err = s.deps.Store.Update(ctx, &wf)
	} else {
		err = s.deps.Store.Save(ctx, &wf)
	}
	if err != nil {
		return toolError("store failed", err), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"version":     wf.Version,
		"status":      wf.Status,
		"created":     created,
	})
}

func (s *Server) handleBreakers(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Breakers == nil {
		return mcp.NewToolResultError("circuit breakers are not configured"), nil
	}
	switch action := req.GetString("action", "list"); action {
	case "list":
	case "reset":
		s.deps.Breakers.ResetAll()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	return marshalResult(map[string]any{"breakers": s.deps.Breakers.Snapshot()})
}

// --- Query helpers ---

func (s *Server) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{Limit: extractInt(filter, "limit", 50)}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if success, ok := filter["success"].(bool); ok {
		ef.Success = &success
	}
	ef.Since = extractTime(filter, "since")

	recs, err := s.deps.Store.ListExecutions(ctx, ef)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"executions": recs})
}

func (s *Server) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{Limit: extractInt(filter, "limit", 100)}
	if wfID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = wfID
	}
	if execID, ok := filter["execution_id"].(string); ok {
		ef.ExecutionID = execID
	}
	if stepID, ok := filter["step_id"].(string); ok {
		ef.StepID = stepID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	ef.Since = extractTime(filter, "since")

	if ef.WorkflowID == "" && ef.ExecutionID == "" {
		return mcp.NewToolResultError("event query requires 'workflow_id' or 'execution_id' in filter"), nil
	}
	events, err := s.deps.Store.ListEvents(ctx, ef)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime reads an RFC 3339 timestamp, nil when absent or invalid.
func extractTime(filter map[string]any, key string) *time.Time {
	raw, ok := filter[key].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// toolError reports err with its code so agents can branch on it.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if code := schema.ErrorCode(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, code, schema.Message(err)))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
