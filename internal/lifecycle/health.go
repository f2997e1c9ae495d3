// Package lifecycle covers process health, graceful shutdown and the on-disk
// state snapshot that survives restarts.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a component or overall health status.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc probes one component. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// ComponentStatus is the outcome of one check.
type ComponentStatus struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report aggregates every registered check.
type Report struct {
	Status     Status                     `json:"status"`
	Draining   bool                       `json:"draining"`
	Components map[string]ComponentStatus `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Health runs named component checks. A failing critical check is "down";
// a failing non-critical one is "degraded".
type Health struct {
	mu       sync.RWMutex
	checks   []check
	timeout  time.Duration
	draining atomic.Bool
}

// NewHealth creates a Health whose checks each run under timeout.
func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Health{timeout: timeout}
}

// Register adds a check. Registering a name twice replaces the first.
func (h *Health) Register(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.checks {
		if c.name == name {
			h.checks[i] = check{name: name, critical: critical, fn: fn}
			return
		}
	}
	h.checks = append(h.checks, check{name: name, critical: critical, fn: fn})
	sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
}

// SetDraining marks the process as shutting down; readiness fails from then on.
func (h *Health) SetDraining(v bool) { h.draining.Store(v) }

// Draining reports whether SetDraining(true) was called.
func (h *Health) Draining() bool { return h.draining.Load() }

// Check runs every check concurrently and aggregates the result.
func (h *Health) Check(ctx context.Context) Report {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	rep := Report{
		Status:     StatusUp,
		Draining:   h.Draining(),
		Components: make(map[string]ComponentStatus, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			cs := h.run(ctx, c)
			mu.Lock()
			rep.Components[c.name] = cs
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	for _, cs := range rep.Components {
		switch {
		case cs.Status == StatusDown:
			rep.Status = StatusDown
		case cs.Status == StatusDegraded && rep.Status == StatusUp:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Ready reports whether the process should receive traffic: not draining and
// no critical check down.
func (h *Health) Ready(ctx context.Context) (Report, bool) {
	rep := h.Check(ctx)
	return rep, !rep.Draining && rep.Status != StatusDown
}

func (h *Health) run(ctx context.Context, c check) (cs ComponentStatus) {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	cs.Critical = c.critical
	defer func() { cs.LatencyMs = time.Since(start).Milliseconds() }()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- c.fn(cctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			cs.Status = failedStatus(c.critical)
			cs.Error = err.Error()
			return cs
		}
		cs.Status = StatusUp
	case <-cctx.Done():
		cs.Status = failedStatus(c.critical)
		cs.Error = "check timed out"
	}
	return cs
}

func failedStatus(critical bool) Status {
	if critical {
		return StatusDown
	}
	return StatusDegraded
}
