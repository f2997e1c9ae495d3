package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jaqedu/jaqflow/internal/actions"
	"github.com/jaqedu/jaqflow/internal/api"
	"github.com/jaqedu/jaqflow/internal/backup"
	"github.com/jaqedu/jaqflow/internal/config"
	"github.com/jaqedu/jaqflow/internal/deploy"
	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/history"
	"github.com/jaqedu/jaqflow/internal/lifecycle"
	"github.com/jaqedu/jaqflow/internal/logging"
	"github.com/jaqedu/jaqflow/internal/metrics"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/internal/scheduler"
	"github.com/jaqedu/jaqflow/internal/steps"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/internal/validation"
	"github.com/jaqedu/jaqflow/pkg/mcp"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// app holds every long-lived component of the serve command.
type app struct {
	cfgPath string
	config  *config.Manager
	level   *slog.LevelVar
	logger  *slog.Logger

	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	metrics   *metrics.Collector
	breakers  *resilience.Registry
	engine    *engine.Engine
	validator *validation.WorkflowValidator
	scheduler *scheduler.Scheduler
	health    *lifecycle.Health
	state     *lifecycle.StateFile
	backups   *backup.Manager
	deploy    *deploy.BlueGreen
	api       *api.Server
	mcp       *mcp.Server
	root      *handlerSwapper
	shutdown  *lifecycle.Shutdowner
}

// openStore opens and migrates the database named by cfg.
func openStore(ctx context.Context, cfg config.Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// stepRuntime builds the action registry, the step dispatcher and the
// definition validator that checks step configs against it.
func stepRuntime(cfg config.Config, logger *slog.Logger, events actions.Emitter) (*steps.Dispatcher, *validation.WorkflowValidator, error) {
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, nil, err
	}
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.BuiltinDeps{
		Validator: jsv,
		HTTP: actions.HTTPConfig{
			DefaultTimeout:  cfg.Actions.HTTPTimeout.Std(),
			MaxResponseBody: cfg.Actions.HTTPMaxResponseBody,
		},
		Logger: logger,
		Events: events,
	}); err != nil {
		return nil, nil, err
	}
	dispatcher, err := steps.NewDefaultDispatcher(reg)
	if err != nil {
		return nil, nil, err
	}
	validator, err := validation.NewWorkflowValidator(dispatcher)
	if err != nil {
		return nil, nil, err
	}
	return dispatcher, validator, nil
}

func newApp(ctx context.Context, cfg config.Config, cfgPath string) (*app, error) {
	a := &app{cfgPath: cfgPath, level: new(slog.LevelVar)}
	a.level.Set(logging.ParseLevel(cfg.Log.Level))
	a.logger = logging.New(os.Stderr, a.level, cfg.Log.Format)
	slog.SetDefault(a.logger)

	mgr, err := config.NewManager(cfg, a.logger.With("component", "config"))
	if err != nil {
		return nil, err
	}
	a.config = mgr

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.hub = streaming.NewMemoryHub()
	a.metrics = metrics.NewCollector(metrics.DefaultConfig())
	events := streaming.Tee{a.hub, a.metrics}

	breakerCfg := cfg.Breaker.Resilience()
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		a.logger.Warn("circuit breaker state changed",
			slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		events.Emit(context.Background(), schema.EventBreakerStateChange, map[string]any{
			"workflowId": "",
			"name":       name,
			"from":       from.String(),
			"to":         to.String(),
		})
	}
	a.breakers = resilience.NewRegistry(breakerCfg)

	dispatcher, validator, err := stepRuntime(cfg, a.logger.With("component", "actions"), events)
	if err != nil {
		return nil, err
	}
	a.validator = validator

	deps := engine.Deps{
		Workflows: a.store,
		Steps:     dispatcher,
		Logger:    history.NewLogger(a.store, a.logger.With("component", "history")),
		Events:    events,
		Breakers:  a.breakers,
		Log:       a.logger.With("component", "engine"),
	}
	if cfg.Engine.Persistence {
		deps.Recorder = a.store
	}
	a.engine = engine.New(deps, engine.Config{
		StepTimeout: cfg.Engine.StepTimeout.Std(),
		PoolSize:    cfg.Engine.PoolSize,
	})

	if err := a.metrics.WatchBreakers(a.breakers, ""); err != nil {
		return nil, err
	}
	if err := a.metrics.WatchGauge("jaqflow", "executions_in_flight", "Workflow runs currently executing.",
		func() float64 { return float64(len(a.engine.InFlight())) }); err != nil {
		return nil, err
	}
	if err := a.metrics.WatchGauge("jaqflow", "pool_waiting_submissions", "Async submissions blocked on a free worker.",
		func() float64 { return float64(a.engine.PoolMetrics().Waiting) }); err != nil {
		return nil, err
	}
	if err := a.metrics.WatchGauge("jaqflow", "stream_dropped_events", "Events dropped for slow stream subscribers since start.",
		func() float64 { return float64(a.hub.Dropped()) }); err != nil {
		return nil, err
	}

	if cfg.Scheduler.Enabled {
		a.scheduler = scheduler.NewScheduler(a.store, a.engine, a.logger.With("component", "scheduler"))
	}

	a.health = lifecycle.NewHealth(0)
	a.health.Register("database", true, a.store.Ping)
	a.health.Register("alerting", false, a.alertingCheck)
	a.health.Register("workflows", false, func(ctx context.Context) error {
		_, err := a.store.FindByStatus(ctx, schema.WorkflowStatusActive)
		return err
	})

	a.state = lifecycle.NewStateFile(cfg.StateFile, 50, a.logger.With("component", "state"))

	a.backups, err = newBackupManager(ctx, a.store, cfg, a.logger.With("component", "backup"))
	if err != nil {
		return nil, err
	}

	a.deploy = deploy.New(deploy.Options{
		InitialVersion: cfg.Deploy.Version,
		Deployer:       deploy.DeployerFunc(a.prepareSlot),
		Check:          a.slotCheck(cfg.Deploy),
		CheckTimeout:   cfg.Deploy.HealthCheckTimeout.Std(),
		Logger:         a.logger.With("component", "deploy"),
	})

	a.api = api.NewServer(api.Deps{
		Store:     a.store,
		Engine:    a.engine,
		Traces:    store.NewEventLog(a.store),
		Validator: a.validator,
		Hub:       a.hub,
		Breakers:  a.breakers,
		Health:    a.health,
		Metrics:   a.metrics,
		Backups:   a.backups,
		Deploy:    a.deploy,
		Config:    a.config,
		Logger:    a.logger.With("component", "api"),
	})
	a.mcp = mcp.NewServer(mcp.ServerDeps{
		Engine:    a.engine,
		Store:     a.store,
		Breakers:  a.breakers,
		Validator: a.validator,
		Hub:       a.hub,
		Version:   version,
		Logger:    a.logger.With("component", "mcp"),
	})
	a.root = newHandlerSwapper(a.rootHandler(cfg.Server.MCP))

	a.config.OnChange(a.applyConfig)
	a.shutdown = lifecycle.NewShutdowner(cfg.Server.ShutdownTimeout.Std(), a.logger.With("component", "shutdown"))
	return a, nil
}

// newBackupManager replicates to S3 when a bucket is configured.
func newBackupManager(ctx context.Context, src backup.Source, cfg config.Config, logger *slog.Logger) (*backup.Manager, error) {
	opts := backup.Options{Retain: cfg.Backup.Retain, Version: version, Logger: logger}
	if s3 := cfg.Backup.S3; s3.Bucket != "" {
		rep, err := backup.NewS3Replicator(ctx, backup.S3Options{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		opts.Replicator = rep
	}
	return backup.NewManager(src, cfg.Backup.Dir, opts), nil
}

// rootHandler mounts the API and, when enabled, the MCP endpoint.
func (a *app) rootHandler(withMCP bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", a.api.Handler())
	if withMCP {
		mux.Handle("/mcp", a.mcp.HTTPHandler())
	}
	return mux
}

// alertingCheck degrades health while any breaker is open.
func (a *app) alertingCheck(context.Context) error {
	var open []string
	for _, m := range a.breakers.Snapshot() {
		if m.State == resilience.StateOpen {
			open = append(open, m.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}
	return nil
}

// prepareSlot is the in-process deployer: the rollout itself is done by the
// deployment tooling, the engine only records the slot's version.
func (a *app) prepareSlot(ctx context.Context, slot deploy.Slot, version string) error {
	a.logger.InfoContext(ctx, "standby slot prepared", slog.String("slot", string(slot)), slog.String("version", version))
	return nil
}

func (a *app) slotCheck(cfg config.DeployConfig) deploy.HealthCheck {
	if cfg.BlueURL != "" && cfg.GreenURL != "" {
		return deploy.HTTPReadyCheck(&http.Client{}, map[deploy.Slot]string{
			deploy.SlotBlue:  cfg.BlueURL,
			deploy.SlotGreen: cfg.GreenURL,
		})
	}
	return func(ctx context.Context, _ deploy.Slot, _ string) error {
		if rep, ok := a.health.Ready(ctx); !ok {
			return fmt.Errorf("not ready: status %s", rep.Status)
		}
		return nil
	}
}

// applyConfig applies the live-reloadable parts of a new config.
func (a *app) applyConfig(_, next config.Config, diff config.Diff) {
	if diff.LogChanged {
		a.level.Set(logging.ParseLevel(next.Log.Level))
	}
	if diff.BreakerChanged {
		a.breakers.SetDefaults(next.Breaker.Resilience())
	}
	if diff.EngineChanged {
		a.engine.SetStepTimeout(next.Engine.StepTimeout.Std())
	}
	if diff.MCPChanged {
		a.root.Swap(a.rootHandler(next.Server.MCP))
	}
	if len(diff.RestartNeeded) > 0 {
		a.logger.Warn("config changes require a restart", slog.Any("fields", diff.RestartNeeded))
	}
}

// close releases resources held by a partially built app.
func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
