package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a change must settle before it is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithEnv sets the env lookup used when reloading.
func WithEnv(getenv func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = getenv }
}

// Watcher reloads a config file into a Manager when its content changes. It
// watches the containing directory so atomic saves are seen.
type Watcher struct {
	path     string
	dataDir  string
	manager  *Manager
	getenv   func(string) string
	debounce time.Duration
	logger   *slog.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastHash string
	pending  time.Time
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path, dataDir string, m *Manager, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		dataDir:  dataDir,
		manager:  m,
		getenv:   os.Getenv,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.lastHash, _ = fileHash(w.path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path && filepath.Base(ev.Name) != "..data" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.reload()
			}
		}
	}
}

// reload applies the file if its content hash changed. An invalid file is
// logged and the live configuration is kept.
func (w *Watcher) reload() {
	hash, err := fileHash(w.path)
	if err != nil {
		w.logger.Error("config watcher: hash failed", "path", w.path, "error", err)
		return
	}
	if hash == w.lastHash {
		w.logger.Debug("config watcher: content unchanged", "path", w.path)
		return
	}

	cfg, err := Load(w.path, w.dataDir, w.getenv)
	if err != nil {
		w.logger.Error("config watcher: rejected new config", "path", w.path, "error", err)
		w.lastHash = hash
		return
	}
	if _, err := w.manager.Apply(cfg); err != nil {
		w.logger.Error("config watcher: apply failed", "path", w.path, "error", err)
	}
	w.lastHash = hash
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
