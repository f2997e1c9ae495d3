// Package backup exports the store to checksummed archives, verifies them,
// restores from them and optionally replicates them off-site.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

const archiveSuffix = ".backup.json"

// Source is the part of the store a backup needs.
type Source interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
	RestoreSnapshot(ctx context.Context, snap *store.Snapshot) error
}

// Replicator copies archives to a secondary location.
type Replicator interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Manifest describes one archive.
type Manifest struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Version    string         `json:"version,omitempty"`
	Checksum   string         `json:"checksum"`
	Size       int64          `json:"size"`
	Counts     map[string]int `json:"counts"`
	Replicated []string       `json:"replicated,omitempty"`
}

// archive is the on-disk layout: the manifest plus the raw snapshot bytes
// the checksum is computed over.
type archive struct {
	Manifest Manifest        `json:"manifest"`
	Data     json.RawMessage `json:"data"`
}

// Options configures a Manager.
type Options struct {
	// Retain bounds local archives; 0 keeps all.
	Retain     int
	Version    string
	Replicator Replicator
	Logger     *slog.Logger
}

// Manager creates, validates and restores archives under a directory.
type Manager struct {
	src  Source
	dir  string
	opts Options
	now  func() time.Time
}

// NewManager creates a Manager writing to dir.
func NewManager(src Source, dir string, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{src: src, dir: dir, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// CreateBackup snapshots the store into a new archive. A replication failure
// is logged and leaves the local archive in place.
func (m *Manager) CreateBackup(ctx context.Context) (*Manifest, error) {
	snap, err := m.src.Snapshot(ctx)
	if err != nil {
		return nil, backupErr("snapshot store", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, backupErr("encode snapshot", err)
	}

	created := m.now()
	man := Manifest{
		ID:        created.Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		CreatedAt: created,
		Version:   m.opts.Version,
		Checksum:  checksum(data),
		Size:      int64(len(data)),
		Counts: map[string]int{
			"workflows":  len(snap.Workflows),
			"revisions":  len(snap.Revisions),
			"executions": len(snap.Executions),
			"events":     len(snap.Events),
			"jobs":       len(snap.Jobs),
		},
	}

	if m.opts.Replicator != nil {
		raw, err := json.Marshal(archive{Manifest: man, Data: data})
		if err != nil {
			return nil, backupErr("encode archive", err)
		}
		if err := m.opts.Replicator.Put(ctx, man.ID+archiveSuffix, raw); err != nil {
			m.opts.Logger.ErrorContext(ctx, "backup replication failed",
				"id", man.ID, "replicator", m.opts.Replicator.Name(), "error", err)
		} else {
			man.Replicated = append(man.Replicated, m.opts.Replicator.Name())
		}
	}

	raw, err := json.Marshal(archive{Manifest: man, Data: data})
	if err != nil {
		return nil, backupErr("encode archive", err)
	}
	if err := m.write(man.ID, raw); err != nil {
		return nil, err
	}
	m.opts.Logger.InfoContext(ctx, "backup created", "id", man.ID, "size", man.Size, "checksum", man.Checksum[:12])

	if err := m.prune(); err != nil {
		m.opts.Logger.WarnContext(ctx, "backup pruning failed", "error", err)
	}
	return &man, nil
}

// ListBackups returns local manifests, newest first.
func (m *Manager) ListBackups() ([]Manifest, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, backupErr("list backups", err)
	}

	var out []Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveSuffix) {
			continue
		}
		a, err := m.read(strings.TrimSuffix(e.Name(), archiveSuffix))
		if err != nil {
			m.opts.Logger.Warn("skipping unreadable backup", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, a.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ValidateBackupIntegrity recomputes the archive checksum and decodes the
// snapshot. Any mismatch is a BACKUP_ERROR.
func (m *Manager) ValidateBackupIntegrity(_ context.Context, id string) (*Manifest, error) {
	a, err := m.read(id)
	if err != nil {
		return nil, err
	}
	if _, err := verify(a); err != nil {
		return nil, err
	}
	return &a.Manifest, nil
}

// RestoreFromBackup validates the archive and replaces the store contents
// with it. A corrupted archive is refused before anything is touched.
func (m *Manager) RestoreFromBackup(ctx context.Context, id string) (*Manifest, error) {
	a, err := m.read(id)
	if err != nil {
		return nil, err
	}
	snap, err := verify(a)
	if err != nil {
		return nil, err
	}
	if err := m.src.RestoreSnapshot(ctx, snap); err != nil {
		return nil, backupErr("restore snapshot", err)
	}
	m.opts.Logger.InfoContext(ctx, "backup restored", "id", id)
	return &a.Manifest, nil
}

// FetchReplica downloads an archive from the replicator into the local
// directory after verifying it.
func (m *Manager) FetchReplica(ctx context.Context, id string) (*Manifest, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if m.opts.Replicator == nil {
		return nil, schema.NewError(schema.ErrCodeBackup, "no replicator configured")
	}
	raw, err := m.opts.Replicator.Get(ctx, id+archiveSuffix)
	if err != nil {
		return nil, backupErr("fetch replica", err)
	}
	var a archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, backupErr("decode replica", err)
	}
	if _, err := verify(&a); err != nil {
		return nil, err
	}
	if a.Manifest.ID != id {
		return nil, schema.NewErrorf(schema.ErrCodeBackup, "replica %s carries manifest for %s", id, a.Manifest.ID)
	}
	if err := m.write(id, raw); err != nil {
		return nil, err
	}
	return &a.Manifest, nil
}

func verify(a *archive) (*store.Snapshot, error) {
	if got := checksum(a.Data); got != a.Manifest.Checksum {
		return nil, schema.NewErrorf(schema.ErrCodeBackup,
			"backup %s is corrupted: checksum mismatch", a.Manifest.ID).
			WithDetails(map[string]any{"expected": a.Manifest.Checksum, "actual": got})
	}
	var snap store.Snapshot
	if err := json.Unmarshal(a.Data, &snap); err != nil {
		return nil, backupErr("decode snapshot", err)
	}
	return &snap, nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+archiveSuffix)
}

// checkID rejects ids that would resolve outside the backup directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid backup id %q", id)
	}
	return nil
}

func (m *Manager) read(id string) (*archive, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "backup %q not found", id)
	}
	if err != nil {
		return nil, backupErr("read backup", err)
	}
	var a archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBackup, "backup %s is corrupted: %s", id, err).WithCause(err)
	}
	return &a, nil
}

func (m *Manager) write(id string, raw []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return backupErr("create backup dir", err)
	}
	tmp := m.path(id) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return backupErr("write backup", err)
	}
	if err := os.Rename(tmp, m.path(id)); err != nil {
		_ = os.Remove(tmp)
		return backupErr("write backup", err)
	}
	return nil
}

func (m *Manager) prune() error {
	if m.opts.Retain <= 0 {
		return nil
	}
	all, err := m.ListBackups()
	if err != nil {
		return err
	}
	var errs []error
	for _, man := range all[min(m.opts.Retain, len(all)):] {
		if err := os.Remove(m.path(man.ID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func backupErr(op string, err error) *schema.EngineError {
	return schema.NewError(schema.ErrCodeBackup, fmt.Sprintf("%s: %s", op, schema.Message(err))).WithCause(err)
}
