package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

const defaultHistoryLimit = 10

// Revision is one applied configuration.
type Revision struct {
	Config    Config    `json:"config"`
	Hash      string    `json:"hash"`
	AppliedAt time.Time `json:"applied_at"`
}

// ChangeFunc observes an applied configuration change.
type ChangeFunc func(old, new Config, diff Diff)

// Manager owns the live configuration. Apply keeps the previous config so
// Rollback can restore it.
type Manager struct {
	mu        sync.RWMutex
	current   Revision
	history   []Revision
	limit     int
	listeners []ChangeFunc
	logger    *slog.Logger
}

// NewManager validates initial and makes it the live configuration.
func NewManager(initial Config, logger *slog.Logger) (*Manager, error) {
	if err := Validate(initial); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		current: newRevision(initial),
		limit:   defaultHistoryLimit,
		logger:  logger,
	}, nil
}

// Current returns the live configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Config
}

// Hash returns the content hash of the live configuration.
func (m *Manager) Hash() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Hash
}

// OnChange registers fn to run after every Apply or Rollback.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Apply validates next and makes it live. An invalid config leaves the live
// one untouched. Applying an identical config is a no-op.
func (m *Manager) Apply(next Config) (Diff, error) {
	if err := Validate(next); err != nil {
		return Diff{}, err
	}
	rev := newRevision(next)

	m.mu.Lock()
	if rev.Hash == m.current.Hash {
		m.mu.Unlock()
		return Diff{}, nil
	}
	old := m.current
	m.history = append(m.history, old)
	if len(m.history) > m.limit {
		m.history = m.history[len(m.history)-m.limit:]
	}
	m.current = rev
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	d := DiffConfigs(old.Config, next)
	m.logger.Info("configuration applied", "hash", short(rev.Hash), "restart_needed", d.RestartNeeded)
	for _, fn := range listeners {
		fn(old.Config, next, d)
	}
	return d, nil
}

// Rollback restores the configuration that was live before the last Apply.
func (m *Manager) Rollback() (Config, error) {
	m.mu.Lock()
	if len(m.history) == 0 {
		m.mu.Unlock()
		return Config{}, schema.NewError(schema.ErrCodeConfig, "no previous configuration to roll back to")
	}
	prev := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	old := m.current
	prev.AppliedAt = time.Now().UTC()
	m.current = prev
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	d := DiffConfigs(old.Config, prev.Config)
	m.logger.Warn("configuration rolled back", "hash", short(prev.Hash))
	for _, fn := range listeners {
		fn(old.Config, prev.Config, d)
	}
	return prev.Config, nil
}

// History returns earlier configurations, oldest first.
func (m *Manager) History() []Revision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Revision(nil), m.history...)
}

func newRevision(cfg Config) Revision {
	return Revision{Config: cfg, Hash: Hash(cfg), AppliedAt: time.Now().UTC()}
}

// Hash returns a stable content hash of cfg.
func Hash(cfg Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func short(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
