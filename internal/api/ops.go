package api

import (
	"net/http"

	"github.com/jaqedu/jaqflow/internal/lifecycle"
)

// handleHealth reports every component; only a down status fails the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(lifecycle.StatusUp)})
		return
	}
	rep := s.deps.Health.Check(r.Context())
	status := http.StatusOK
	if rep.Status == lifecycle.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// handleReady is 503 while draining or when a critical check fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	rep, ready := s.deps.Health.Ready(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "report": rep})
}

// --- Breakers ---

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Breakers == nil {
		notConfigured(w, "circuit breakers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.deps.Breakers.Snapshot()})
}

func (s *Server) handleResetBreakers(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Breakers == nil {
		notConfigured(w, "circuit breakers")
		return
	}
	s.deps.Breakers.ResetAll()
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.deps.Breakers.Snapshot()})
}

func (s *Server) handleRemoveBreaker(w http.ResponseWriter, r *http.Request) {
	if s.deps.Breakers == nil {
		notConfigured(w, "circuit breakers")
		return
	}
	name := r.PathValue("name")
	if _, ok := s.deps.Breakers.Get(name); !ok {
		writeError(w, http.StatusNotFound, "breaker "+name+" not found")
		return
	}
	s.deps.Breakers.Remove(name)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "name": name})
}

// --- Config ---

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Config == nil {
		notConfigured(w, "config manager")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config": s.deps.Config.Current(),
		"hash":   s.deps.Config.Hash(),
	})
}

func (s *Server) handleRollbackConfig(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Config == nil {
		notConfigured(w, "config manager")
		return
	}
	cfg, err := s.deps.Config.Rollback()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg, "hash": s.deps.Config.Hash()})
}

// --- Backups ---

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Backups == nil {
		notConfigured(w, "backups")
		return
	}
	list, err := s.deps.Backups.ListBackups()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": list})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backups == nil {
		notConfigured(w, "backups")
		return
	}
	man, err := s.deps.Backups.CreateBackup(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, man)
}

func (s *Server) handleValidateBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backups == nil {
		notConfigured(w, "backups")
		return
	}
	man, err := s.deps.Backups.ValidateBackupIntegrity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "manifest": man})
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backups == nil {
		notConfigured(w, "backups")
		return
	}
	man, err := s.deps.Backups.RestoreFromBackup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": true, "manifest": man})
}

// --- Blue-green ---

func (s *Server) handleDeployStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Deploy == nil {
		notConfigured(w, "blue-green deployment")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Deploy.Status())
}

func (s *Server) handleDeploySwitch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deploy == nil {
		notConfigured(w, "blue-green deployment")
		return
	}
	var body struct {
		Version string `json:"version"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	rec, err := s.deps.Deploy.Switch(r.Context(), body.Version)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeployRollback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deploy == nil {
		notConfigured(w, "blue-green deployment")
		return
	}
	rec, err := s.deps.Deploy.Rollback(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeployTraffic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deploy == nil {
		notConfigured(w, "blue-green deployment")
		return
	}
	var body struct {
		GreenPercent *int `json:"green_percent"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.GreenPercent == nil {
		writeError(w, http.StatusBadRequest, "green_percent is required")
		return
	}
	if err := s.deps.Deploy.SetTrafficDistribution(*body.GreenPercent); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Deploy.Status())
}
