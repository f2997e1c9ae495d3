package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		Name:   r.URL.Query().Get("name"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := schema.WorkflowStatus(v)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		filter.Status = &st
	}
	wfs, err := s.deps.Store.FindAll(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs, "count": len(wfs)})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf schema.Workflow
	if !decodeJSON(w, r, &wf) {
		return
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if !s.validate(w, &wf) {
		return
	}
	if err := s.deps.Store.Save(r.Context(), &wf); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &wf)
}

// handleUpdateWorkflow replaces a definition. A non-zero version in the body
// must match the stored one.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf schema.Workflow
	if !decodeJSON(w, r, &wf) {
		return
	}
	wf.ID = r.PathValue("id")
	if !s.validate(w, &wf) {
		return
	}
	if err := s.deps.Store.Update(r.Context(), &wf); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.Delete(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *Server) handleWorkflowRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := s.deps.Store.WorkflowHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

// handleWorkflowHistory lists the workflow's lifecycle events across runs.
func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.ListEvents(r.Context(), store.EventFilter{
		WorkflowID: r.PathValue("id"),
		EventType:  r.URL.Query().Get("type"),
		Since:      queryTime(r, "since"),
		Limit:      queryInt(r, "limit", 200),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) validate(w http.ResponseWriter, wf *schema.Workflow) bool {
	if s.deps.Validator == nil {
		return true
	}
	if err := s.deps.Validator.ValidateWorkflow(wf); err != nil {
		writeEngineError(w, err)
		return false
	}
	return true
}

type executeRequest struct {
	Variables   map[string]any `json:"variables"`
	Timeout     string         `json:"timeout"`
	ExecutionID string         `json:"execution_id"`
	Async       bool           `json:"async"`
}

// handleExecute runs a workflow. A failed run is still a 200 carrying the
// result; only request-level failures (unknown workflow, invalid definition,
// shutdown, open breaker) map to error statuses.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	opts := engine.Options{Variables: req.Variables, ExecutionID: req.ExecutionID}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout "+req.Timeout)
			return
		}
		opts.Timeout = d
	}
	id := r.PathValue("id")

	if req.Async {
		// The run outlives the request.
		execID, err := s.deps.Engine.Submit(context.WithoutCancel(r.Context()), id, opts, nil)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"execution_id": execID,
			"workflow_id":  id,
			"status_url":   "/api/executions/" + execID,
		})
		return
	}

	res := s.deps.Engine.ExecuteWorkflow(r.Context(), id, opts)
	status := http.StatusOK
	if !res.Success {
		switch res.ErrorCode {
		case schema.ErrCodeNotFound, schema.ErrCodeValidation, schema.ErrCodeCycleDetected,
			schema.ErrCodeShuttingDown, schema.ErrCodeCircuitOpen:
			status = statusFor(res.ErrorCode)
		}
	}
	writeJSON(w, status, res)
}
