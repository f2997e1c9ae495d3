package api

import (
	"net/http"

	"github.com/jaqedu/jaqflow/internal/diagram"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// handleWorkflowDiagram renders the workflow's step graph. With execution_id
// the nodes carry that run's step states, rebuilt from its event log.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var trace *store.ExecutionTrace
	if execID := r.URL.Query().Get("execution_id"); execID != "" {
		if s.deps.Traces == nil {
			notConfigured(w, "trace replay")
			return
		}
		trace, err = s.deps.Traces.Replay(r.Context(), execID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if trace.WorkflowID != wf.ID {
			writeEngineError(w, schema.NewErrorf(schema.ErrCodeValidation,
				"execution %s belongs to workflow %s", execID, trace.WorkflowID))
			return
		}
	}

	model, err := diagram.Build(wf, trace)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "mermaid":
		writeText(w, "text/plain; charset=utf-8", diagram.RenderMermaid(model))
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", diagram.RenderASCII(model))
	case "png", "svg":
		img, err := diagram.RenderImage(r.Context(), model, diagram.ImageFormat(format))
		if err != nil {
			s.deps.Logger.Error("render diagram", "workflow_id", wf.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}
		ct := "image/png"
		if format == "svg" {
			ct = "image/svg+xml"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(http.StatusOK)
		w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, "unknown format "+format)
	}
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
