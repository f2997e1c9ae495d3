package api

import (
	"net/http"
	"strconv"

	"github.com/jaqedu/jaqflow/internal/store"
)

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.ListExecutions(r.Context(), store.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Success:    queryBool(r, "success"),
		Since:      queryTime(r, "since"),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs, "count": len(recs)})
}

func (s *Server) handleRunning(w http.ResponseWriter, _ *http.Request) {
	runs := s.deps.Engine.InFlight()
	writeJSON(w, http.StatusOK, map[string]any{"running": runs, "count": len(runs)})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExecutionEvents returns the run's event log after the given sequence
// so pollers can resume where they left off.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative sequence number")
			return
		}
		since = n
	}
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleExecutionTrace(w http.ResponseWriter, r *http.Request) {
	if s.deps.Traces == nil {
		notConfigured(w, "trace replay")
		return
	}
	trace, err := s.deps.Traces.Replay(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}
