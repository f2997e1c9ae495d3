package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaqedu/jaqflow/internal/config"
	"github.com/jaqedu/jaqflow/internal/lifecycle"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := configFlag(fs)
	stdio := fs.Bool("stdio", false, "also serve MCP over stdin/stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		if a != nil {
			_ = a.close()
		}
		return 1
	}
	if err := a.run(ctx, *stdio); err != nil {
		a.logger.Error("jaqflow exited with error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// run starts every component and blocks until ctx is cancelled, then runs
// the shutdown sequence.
func (a *app) run(ctx context.Context, stdio bool) error {
	cfg := a.config.Current()
	a.restoreState()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher := config.NewWatcher(a.cfgPath, dataDir(), a.config, a.logger.With("component", "config"))
	if err := watcher.Start(); err != nil {
		a.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		watcher = nil
	}

	a.registerShutdownHooks(srv, watcher)
	if err := writePIDFile(); err != nil {
		a.logger.Warn("pid file not written", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("jaqflow listening",
			slog.String("addr", srv.Addr),
			slog.String("version", version),
			slog.Bool("mcp", cfg.Server.MCP))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		if err := a.scheduler.RecoverMissed(gctx); err != nil {
			a.logger.Warn("missed job recovery failed", slog.String("error", err.Error()))
		}
		if err := a.scheduler.Start(gctx); err != nil {
			return err
		}
	}
	g.Go(func() error { return a.mcp.ForwardCompletions(gctx) })
	g.Go(func() error { return a.trackExecutions(gctx) })
	g.Go(func() error { return a.reloadOnHangup(gctx) })
	if stdio {
		g.Go(func() error { return a.mcp.Serve(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		return a.shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

// registerShutdownHooks orders the drain: stop accepting work, finish
// in-flight runs, then persist state and close the store.
func (a *app) registerShutdownHooks(srv *http.Server, watcher *config.Watcher) {
	a.shutdown.Register("readiness", func(context.Context) error {
		a.health.SetDraining(true)
		return nil
	})
	if a.scheduler != nil {
		a.shutdown.Register("scheduler", func(context.Context) error { return a.scheduler.Stop() })
	}
	if watcher != nil {
		a.shutdown.Register("config watcher", func(context.Context) error { return watcher.Stop() })
	}
	a.shutdown.Register("engine", a.engine.Drain)
	a.shutdown.Register("http", func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil {
			// Long-lived SSE streams never go idle.
			_ = srv.Close()
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
		return nil
	})
	a.shutdown.Register("state file", func(context.Context) error {
		return a.state.Save(a.engine.InFlight(), a.deploy.Status().ActiveVersion())
	})
	a.shutdown.Register("store", func(context.Context) error { return a.store.Close() })
	a.shutdown.Register("pid file", func(context.Context) error {
		if err := os.Remove(pidPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// reloadOnHangup re-reads the config file on SIGHUP, as sent by install.
func (a *app) reloadOnHangup(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := loadConfig(a.cfgPath)
			if err != nil {
				a.logger.Warn("config reload rejected", slog.String("error", err.Error()))
				continue
			}
			diff, err := a.config.Apply(cfg)
			if err != nil {
				a.logger.Warn("config reload rejected", slog.String("error", err.Error()))
				continue
			}
			a.logger.Info("config reloaded on SIGHUP", slog.Bool("changed", !diff.Empty()))
		}
	}
}

// restoreState loads the previous process state and reports runs that were
// interrupted by an unclean stop.
func (a *app) restoreState() {
	st, recovered, err := a.state.Load()
	if err != nil {
		a.logger.Warn("state file load failed", slog.String("error", err.Error()))
		return
	}
	if recovered {
		a.logger.Warn("starting with a clean state", slog.String("path", a.state.Path()))
	}
	for _, run := range st.InFlight {
		a.logger.Warn("run interrupted by previous shutdown",
			slog.String("execution_id", run.ExecutionID),
			slog.String("workflow_id", run.WorkflowID),
			slog.String("current_step", run.CurrentStep))
	}
	if !st.UpdatedAt.IsZero() {
		a.logger.Info("previous state loaded",
			slog.Time("saved_at", st.UpdatedAt),
			slog.Int("last_executions", len(st.LastExecutions)),
			slog.String("deploy_version", st.DeployVersion))
	}
}

// trackExecutions feeds finished runs into the state file.
func (a *app) trackExecutions(ctx context.Context) error {
	ch, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionError},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.ExecutionID == "" {
				continue
			}
			summary := lifecycle.ExecutionSummary{
				ExecutionID: ev.ExecutionID,
				WorkflowID:  ev.WorkflowID,
				Success:     ev.EventType == schema.EventExecutionCompleted,
				CompletedAt: ev.Timestamp,
			}
			if msg, ok := ev.Payload["error"].(string); ok {
				summary.Error = msg
			}
			a.state.RecordExecution(summary)
		}
	}
}
