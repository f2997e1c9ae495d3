package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/internal/engine"
)

// StateVersion identifies the state file layout.
const StateVersion = 1

// ExecutionSummary is a finished run kept in the state file.
type ExecutionSummary struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// State is the process snapshot written on shutdown and read on startup.
type State struct {
	Version        int                `json:"version"`
	UpdatedAt      time.Time          `json:"updated_at"`
	DeployVersion  string             `json:"deploy_version,omitempty"`
	InFlight       []engine.RunInfo   `json:"in_flight"`
	LastExecutions []ExecutionSummary `json:"last_executions"`
}

// StateFile reads and writes State atomically.
type StateFile struct {
	path    string
	keep    int
	logger  *slog.Logger
	mu      sync.Mutex
	current State
}

// NewStateFile creates a StateFile. keep bounds LastExecutions.
func NewStateFile(path string, keep int, logger *slog.Logger) *StateFile {
	if keep <= 0 {
		keep = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFile{path: path, keep: keep, logger: logger, current: State{Version: StateVersion}}
}

// Path returns the file location.
func (f *StateFile) Path() string { return f.path }

// Load reads the state. A missing file yields a clean state. A corrupt or
// unreadable file is moved aside to <path>.corrupt and a clean state is
// returned with recovered=true; startup never fails because of it.
func (f *StateFile) Load() (st State, recovered bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clean := State{Version: StateVersion}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.current = clean
		return clean, false, nil
	case err != nil:
		f.quarantine(err)
		f.current = clean
		return clean, true, nil
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		f.quarantine(err)
		f.current = clean
		return clean, true, nil
	}
	if loaded.Version != StateVersion {
		f.quarantine(fmt.Errorf("unsupported state version %d", loaded.Version))
		f.current = clean
		return clean, true, nil
	}
	f.current = loaded
	return loaded, false, nil
}

// Current returns the in-memory state.
func (f *StateFile) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// RecordExecution appends a finished run, keeping the newest entries.
func (f *StateFile) RecordExecution(s ExecutionSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.LastExecutions = append(f.current.LastExecutions, s)
	if n := len(f.current.LastExecutions); n > f.keep {
		f.current.LastExecutions = f.current.LastExecutions[n-f.keep:]
	}
}

// Save writes the in-memory state with the given in-flight runs.
func (f *StateFile) Save(inFlight []engine.RunInfo, deployVersion string) error {
	f.mu.Lock()
	f.current.Version = StateVersion
	f.current.UpdatedAt = time.Now().UTC()
	f.current.InFlight = inFlight
	if deployVersion != "" {
		f.current.DeployVersion = deployVersion
	}
	st := f.current
	f.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (f *StateFile) quarantine(cause error) {
	dst := f.path + ".corrupt"
	if err := os.Rename(f.path, dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Error("state file unreadable and could not be moved aside", "path", f.path, "error", err, "cause", cause)
		return
	}
	f.logger.Warn("state file corrupt, starting clean", "path", f.path, "moved_to", dst, "cause", cause)
}
