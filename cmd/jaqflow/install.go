package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jaqedu/jaqflow/internal/config"
)

func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	cfgPath := configFlag(fs)
	defaults := config.Default(dataDir())
	listenAddr := fs.String("listen-addr", defaults.Server.ListenAddr, "TCP listen address")
	baseURL := fs.String("base-url", "", "public base URL (derived from listen-addr if empty)")
	dbPath := fs.String("db-path", defaults.Database.Path, "database path")
	logLevel := fs.String("log-level", defaults.Log.Level, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", defaults.Log.Format, "log format: text or json")
	poolSize := fs.Int("pool-size", defaults.Engine.PoolSize, "concurrent async runs")
	mcpFlag := fs.Bool("mcp", defaults.Server.MCP, "serve the MCP endpoint at /mcp")
	schedFlag := fs.Bool("scheduler", defaults.Scheduler.Enabled, "run scheduled trigger jobs")
	s3Bucket := fs.String("s3-bucket", "", "replicate backups to this S3 bucket")
	s3Region := fs.String("s3-region", "", "region of the backup bucket")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if _, err := os.Stat(*cfgPath); err == nil && !*force {
		fatalf("%s already exists (use -force to overwrite)", *cfgPath)
	}

	cfg := defaults
	cfg.Server.ListenAddr = *listenAddr
	cfg.Server.BaseURL = *baseURL
	cfg.Server.MCP = *mcpFlag
	cfg.Database.Path = *dbPath
	cfg.Log.Level = *logLevel
	cfg.Log.Format = *logFormat
	cfg.Engine.PoolSize = *poolSize
	cfg.Scheduler.Enabled = *schedFlag
	cfg.Backup.S3.Bucket = *s3Bucket
	cfg.Backup.S3.Region = *s3Region
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost" + cfg.Server.ListenAddr
	}
	if err := config.Validate(cfg); err != nil {
		fatalf("%v", err)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*cfgPath), 0o700); err != nil {
		fatalf("cannot create %s: %v", filepath.Dir(*cfgPath), err)
	}
	if err := os.WriteFile(*cfgPath, data, 0o600); err != nil {
		fatalf("cannot write %s: %v", *cfgPath, err)
	}
	fmt.Printf("Config written to %s\n", *cfgPath)

	s, err := openStore(context.Background(), cfg)
	if err != nil {
		fatalf("%v", err)
	}
	_ = s.Close()
	fmt.Printf("Database ready at %s\n", cfg.Database.Path)

	if signalRunningServer() {
		return
	}
	fmt.Println("Start the engine with: jaqflow serve")
}

func pidPath() string {
	return filepath.Join(dataDir(), "jaqflow.pid")
}

func writePIDFile() error {
	if err := os.MkdirAll(dataDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// signalRunningServer sends SIGHUP to a running jaqflow server (via pidfile)
// so it reloads its config. Returns true if a server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
