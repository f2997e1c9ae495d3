// Package deploy coordinates blue-green rollouts of the engine: two slots, a
// traffic weight between them and health-gated switches with automatic
// rollback.
package deploy

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Slot names one of the two deployment targets.
type Slot string

const (
	SlotBlue  Slot = "blue"
	SlotGreen Slot = "green"
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// Deployer installs a version into a slot.
type Deployer interface {
	Deploy(ctx context.Context, slot Slot, version string) error
}

// DeployerFunc adapts a function to Deployer.
type DeployerFunc func(ctx context.Context, slot Slot, version string) error

func (f DeployerFunc) Deploy(ctx context.Context, slot Slot, version string) error {
	return f(ctx, slot, version)
}

// HealthCheck reports whether a freshly deployed slot can take traffic.
type HealthCheck func(ctx context.Context, slot Slot, version string) error

// SlotState is the observable state of one slot.
type SlotState struct {
	Slot       Slot      `json:"slot"`
	Version    string    `json:"version,omitempty"`
	DeployedAt time.Time `json:"deployed_at,omitzero"`
	Healthy    bool      `json:"healthy"`
}

// Outcome of a switch attempt.
const (
	OutcomeSwitched   = "switched"
	OutcomeRolledBack = "rolled_back"
	OutcomeReverted   = "reverted"
)

// Record is one entry of the deployment history.
type Record struct {
	ID      string    `json:"id"`
	Version string    `json:"version"`
	From    Slot      `json:"from"`
	To      Slot      `json:"to"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Status is a point-in-time view of the rollout.
type Status struct {
	Active      Slot      `json:"active"`
	GreenWeight int       `json:"green_weight"`
	Blue        SlotState `json:"blue"`
	Green       SlotState `json:"green"`
	History     []Record  `json:"history"`
}

// ActiveVersion returns the version serving the active slot.
func (s Status) ActiveVersion() string {
	if s.Active == SlotGreen {
		return s.Green.Version
	}
	return s.Blue.Version
}

// Options configures a BlueGreen coordinator.
type Options struct {
	// InitialVersion is the version already serving from blue.
	InitialVersion string
	Deployer       Deployer
	Check          HealthCheck
	CheckTimeout   time.Duration
	// OnChange is called after every traffic change with the new status.
	OnChange func(Status)
	Logger   *slog.Logger
	// HistoryLimit bounds the kept records. Default 20.
	HistoryLimit int
}

// BlueGreen is safe for concurrent use. Switches are serialized.
type BlueGreen struct {
	opts Options

	switchMu sync.Mutex

	mu          sync.RWMutex
	active      Slot
	greenWeight int
	slots       map[Slot]*SlotState
	history     []Record
}

// New creates a coordinator with blue active and taking all traffic.
func New(opts Options) *BlueGreen {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 30 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	now := time.Now().UTC()
	blue := &SlotState{Slot: SlotBlue, Version: opts.InitialVersion, Healthy: true}
	if opts.InitialVersion != "" {
		blue.DeployedAt = now
	}
	return &BlueGreen{
		opts:   opts,
		active: SlotBlue,
		slots: map[Slot]*SlotState{
			SlotBlue:  blue,
			SlotGreen: {Slot: SlotGreen},
		},
	}
}

// Status returns a copy of the current state.
func (b *BlueGreen) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statusLocked()
}

func (b *BlueGreen) statusLocked() Status {
	return Status{
		Active:      b.active,
		GreenWeight: b.greenWeight,
		Blue:        *b.slots[SlotBlue],
		Green:       *b.slots[SlotGreen],
		History:     append([]Record(nil), b.history...),
	}
}

// SetTrafficDistribution sends percentGreen percent of requests to green.
func (b *BlueGreen) SetTrafficDistribution(percentGreen int) error {
	if percentGreen < 0 || percentGreen > 100 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"traffic percentage must be within 0..100, got %d", percentGreen)
	}
	b.mu.Lock()
	if percentGreen > 0 && b.slots[SlotGreen].Version == "" {
		b.mu.Unlock()
		return schema.NewError(schema.ErrCodeDeploy, "green slot has no deployed version")
	}
	if percentGreen < 100 && b.slots[SlotBlue].Version == "" {
		b.mu.Unlock()
		return schema.NewError(schema.ErrCodeDeploy, "blue slot has no deployed version")
	}
	b.greenWeight = percentGreen
	st := b.statusLocked()
	b.mu.Unlock()

	b.opts.Logger.Info("traffic distribution changed", "green_percent", percentGreen)
	b.notify(st)
	return nil
}

// Route picks the slot for a request key. The same key always lands on the
// same slot for a given weight.
func (b *BlueGreen) Route(key string) Slot {
	b.mu.RLock()
	w := b.greenWeight
	b.mu.RUnlock()
	switch w {
	case 0:
		return SlotBlue
	case 100:
		return SlotGreen
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	if int(h.Sum32()%100) < w {
		return SlotGreen
	}
	return SlotBlue
}

// Switch deploys version to the standby slot, health-checks it and moves all
// traffic there. A failed deploy or health check puts all traffic back on the
// active slot, including any canary share, and returns DEPLOY_ERROR.
func (b *BlueGreen) Switch(ctx context.Context, version string) (*Record, error) {
	if version == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "version is required")
	}
	b.switchMu.Lock()
	defer b.switchMu.Unlock()

	b.mu.RLock()
	from := b.active
	b.mu.RUnlock()
	to := from.Other()

	rec := Record{ID: uuid.NewString(), Version: version, From: from, To: to}
	log := b.opts.Logger.With("deploy_id", rec.ID, "version", version, "from", from, "to", to)
	log.InfoContext(ctx, "blue-green switch started")

	if b.opts.Deployer != nil {
		if err := b.opts.Deployer.Deploy(ctx, to, version); err != nil {
			return b.fail(ctx, rec, fmt.Errorf("deploy: %w", err))
		}
	}

	b.mu.Lock()
	b.slots[to] = &SlotState{Slot: to, Version: version, DeployedAt: time.Now().UTC()}
	b.mu.Unlock()

	if b.opts.Check != nil {
		cctx, cancel := context.WithTimeout(ctx, b.opts.CheckTimeout)
		err := b.opts.Check(cctx, to, version)
		cancel()
		if err != nil {
			return b.fail(ctx, rec, fmt.Errorf("health check: %w", err))
		}
	}

	b.mu.Lock()
	b.slots[to].Healthy = true
	b.active = to
	b.greenWeight = weightFor(to)
	rec.Outcome = OutcomeSwitched
	rec.At = time.Now().UTC()
	b.appendLocked(rec)
	st := b.statusLocked()
	b.mu.Unlock()

	log.InfoContext(ctx, "blue-green switch completed")
	b.notify(st)
	return &rec, nil
}

// fail sends all traffic back to the active slot and records the rollback.
func (b *BlueGreen) fail(ctx context.Context, rec Record, cause error) (*Record, error) {
	b.mu.Lock()
	b.greenWeight = weightFor(rec.From)
	if s := b.slots[rec.To]; s.Version == rec.Version {
		s.Healthy = false
	}
	rec.Outcome = OutcomeRolledBack
	rec.Error = cause.Error()
	rec.At = time.Now().UTC()
	b.appendLocked(rec)
	st := b.statusLocked()
	b.mu.Unlock()

	b.opts.Logger.ErrorContext(ctx, "blue-green switch rolled back",
		"deploy_id", rec.ID, "version", rec.Version, "error", cause)
	b.notify(st)
	return &rec, schema.NewErrorf(schema.ErrCodeDeploy,
		"switch to %s failed, traffic stays on %s: %s", rec.Version, rec.From, cause).
		WithCause(cause).
		WithDetails(map[string]any{"deploy_id": rec.ID, "slot": string(rec.To)})
}

// Rollback moves all traffic back to the standby slot, which must still hold
// a healthy version.
func (b *BlueGreen) Rollback(ctx context.Context) (*Record, error) {
	b.switchMu.Lock()
	defer b.switchMu.Unlock()

	b.mu.Lock()
	from := b.active
	to := from.Other()
	target := b.slots[to]
	if target.Version == "" || !target.Healthy {
		b.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeDeploy, "no healthy version on %s to roll back to", to)
	}
	b.active = to
	b.greenWeight = weightFor(to)
	rec := Record{
		ID: uuid.NewString(), Version: target.Version, From: from, To: to,
		Outcome: OutcomeReverted, At: time.Now().UTC(),
	}
	b.appendLocked(rec)
	st := b.statusLocked()
	b.mu.Unlock()

	b.opts.Logger.WarnContext(ctx, "blue-green rollback", "version", rec.Version, "to", to)
	b.notify(st)
	return &rec, nil
}

func (b *BlueGreen) appendLocked(rec Record) {
	b.history = append(b.history, rec)
	if over := len(b.history) - b.opts.HistoryLimit; over > 0 {
		b.history = b.history[over:]
	}
}

func (b *BlueGreen) notify(st Status) {
	if b.opts.OnChange != nil {
		b.opts.OnChange(st)
	}
}

func weightFor(s Slot) int {
	if s == SlotGreen {
		return 100
	}
	return 0
}
