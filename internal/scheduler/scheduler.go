// Package scheduler starts workflow runs on cron schedules. Jobs live in the
// store; workflows carrying a scheduled trigger step get a job synced for
// them automatically.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/steps"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Run statuses recorded on a job.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// triggerJobPrefix marks jobs derived from trigger steps.
const triggerJobPrefix = "trigger:"

// Runner is the part of the engine the scheduler needs.
type Runner interface {
	Submit(ctx context.Context, workflowID string, opts engine.Options, onDone func(*schema.ExecutionResult)) (string, error)
}

// Store is the persistence the scheduler reads and updates.
type Store interface {
	store.JobStore
	FindByStatus(ctx context.Context, status schema.WorkflowStatus) ([]*schema.Workflow, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval. Default 60s.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls the store for due jobs and submits them to the engine.
type Scheduler struct {
	store    Store
	runner   Runner
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs with a run in progress
	wg         sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s Store, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sc := &Scheduler{
		store:    s,
		runner:   runner,
		logger:   logger,
		interval: 60 * time.Second,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(sc)
	}
	return sc
}

// Start launches the background loop. It syncs trigger jobs first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.SyncTriggers(schedCtx); err != nil {
		s.logger.Warn("trigger sync failed", slog.String("error", err.Error()))
	}
	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick submits every enabled job whose next run is due. A job without a
// next run time is due immediately.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runJob submits the job's workflow. The in-flight mark is released when the
// run finishes or the submission is rejected.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		s.releaseJob(job.ID)
		return err
	}

	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)

	// The running mark is written before submitting so a fast run cannot
	// have its final status overwritten.
	opts := engine.Options{Variables: jobVariables(job, now), ExecutionID: uuid.NewString()}
	s.record(job.ID, store.ScheduledJobRun{At: now, Status: StatusRunning, ExecutionID: opts.ExecutionID, NextRunAt: &next})

	s.wg.Add(1)
	_, err = s.runner.Submit(ctx, job.WorkflowID, opts, func(res *schema.ExecutionResult) {
		defer s.wg.Done()
		defer s.releaseJob(job.ID)
		status := StatusCompleted
		if !res.Success {
			status = StatusFailed
		}
		s.record(job.ID, store.ScheduledJobRun{At: now, Status: status, ExecutionID: res.ExecutionID})
	})
	if err != nil {
		s.wg.Done()
		s.releaseJob(job.ID)
		s.record(job.ID, store.ScheduledJobRun{At: now, Status: StatusRejected, ExecutionID: opts.ExecutionID})
		return fmt.Errorf("submit workflow %q: %w", job.WorkflowID, err)
	}
	return nil
}

// record writes run bookkeeping outside the caller's cancellation so a
// stopping scheduler still stores the outcome.
func (s *Scheduler) record(jobID string, run store.ScheduledJobRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordJobRun(ctx, jobID, run); err != nil {
		s.logger.Error("failed to record job run",
			slog.String("job_id", jobID),
			slog.String("status", run.Status),
			slog.String("error", err.Error()),
		)
	}
}

// jobVariables seeds a run: the job's variables at top level, the same map
// as the trigger payload and the scheduled firing time.
func jobVariables(job *store.ScheduledJob, now time.Time) map[string]any {
	vars := maps.Clone(job.Variables)
	if vars == nil {
		vars = map[string]any{}
	}
	if len(job.Variables) > 0 {
		vars[steps.VarTriggerPayload] = maps.Clone(job.Variables)
	}
	vars["scheduler.job_id"] = job.ID
	vars["scheduler.scheduled_at"] = now.Format(time.RFC3339)
	return vars
}

// SyncTriggers creates or refreshes one job per scheduled trigger step of
// every active workflow and disables trigger jobs whose step is gone or
// whose workflow is no longer active.
func (s *Scheduler) SyncTriggers(ctx context.Context) error {
	active, err := s.store.FindByStatus(ctx, schema.WorkflowStatusActive)
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}

	now := s.now().UTC()
	wanted := make(map[string]*store.ScheduledJob)
	for _, wf := range active {
		for _, step := range wf.Steps {
			if step.Type != schema.StepTypeTrigger {
				continue
			}
			var cfg schema.TriggerConfig
			if len(step.Config) > 0 {
				if err := json.Unmarshal(step.Config, &cfg); err != nil {
					s.logger.Warn("skipping trigger with bad config",
						slog.String("workflow_id", wf.ID), slog.String("step_id", step.ID))
					continue
				}
			}
			if cfg.Schedule == "" {
				continue
			}
			wanted[triggerJobID(wf.ID, step.ID)] = &store.ScheduledJob{
				ID:             triggerJobID(wf.ID, step.ID),
				WorkflowID:     wf.ID,
				CronExpression: cfg.Schedule,
				Variables:      cfg.Payload,
				Enabled:        true,
			}
		}
	}

	existing, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{})
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	current := make(map[string]*store.ScheduledJob, len(existing))
	for _, job := range existing {
		current[job.ID] = job
	}

	for id, job := range wanted {
		old, ok := current[id]
		if !ok || old.CronExpression != job.CronExpression || !old.Enabled {
			next, err := s.CalculateNextRun(job.CronExpression, now)
			if err != nil {
				s.logger.Warn("skipping trigger with bad schedule",
					slog.String("job_id", id), slog.String("error", err.Error()))
				continue
			}
			job.NextRunAt = &next
		}
		if err := s.store.UpsertScheduledJob(ctx, job); err != nil {
			return err
		}
	}

	for id, job := range current {
		if !strings.HasPrefix(id, triggerJobPrefix) || !job.Enabled {
			continue
		}
		if _, ok := wanted[id]; ok {
			continue
		}
		job.Enabled = false
		if err := s.store.UpsertScheduledJob(ctx, job); err != nil {
			return err
		}
		s.logger.Info("disabled stale trigger job", slog.String("job_id", id))
	}
	return nil
}

func triggerJobID(workflowID, stepID string) string {
	return triggerJobPrefix + workflowID + ":" + stepID
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := steps.ParseSchedule(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// Stop ends the loop and waits for runs it submitted to finish recording.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every enabled job whose next run passed while the
// process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
