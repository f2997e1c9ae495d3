// Package config loads, validates and hot-reloads the server configuration.
// Priority: env vars > YAML file > defaults.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jaqedu/jaqflow/internal/resilience"
)

// Duration is a time.Duration that reads and writes as "30s" in YAML and JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Config holds all jaqflow server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Actions   ActionsConfig   `yaml:"actions" json:"actions"`
	Backup    BackupConfig    `yaml:"backup" json:"backup"`
	Deploy    DeployConfig    `yaml:"deploy" json:"deploy"`
	StateFile string          `yaml:"state_file" json:"state_file"`
}

type ServerConfig struct {
	ListenAddr      string   `yaml:"listen_addr" json:"listen_addr"`
	BaseURL         string   `yaml:"base_url" json:"base_url"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MCP             bool     `yaml:"mcp" json:"mcp"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type EngineConfig struct {
	StepTimeout Duration `yaml:"step_timeout" json:"step_timeout"`
	PoolSize    int      `yaml:"pool_size" json:"pool_size"`
	Persistence bool     `yaml:"persistence" json:"persistence"`
}

type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout" json:"reset_timeout"`
	MonitoringPeriod Duration `yaml:"monitoring_period" json:"monitoring_period"`
}

// Resilience converts the section to a breaker config without callbacks.
func (b BreakerConfig) Resilience() resilience.Config {
	return resilience.Config{
		FailureThreshold: b.FailureThreshold,
		ResetTimeout:     b.ResetTimeout.Std(),
		MonitoringPeriod: b.MonitoringPeriod.Std(),
	}
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type ActionsConfig struct {
	HTTPTimeout         Duration `yaml:"http_timeout" json:"http_timeout"`
	HTTPMaxResponseBody int64    `yaml:"http_max_response_body" json:"http_max_response_body"`
}

type BackupConfig struct {
	Dir    string   `yaml:"dir" json:"dir"`
	Retain int      `yaml:"retain" json:"retain"`
	S3     S3Config `yaml:"s3" json:"s3"`
}

// S3Config enables cross-region replication of backups when Bucket is set.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region" json:"region"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
}

// DeployConfig drives blue-green rollouts. When both slot URLs are set the
// standby is health-checked over HTTP; otherwise the local readiness checks
// are used.
type DeployConfig struct {
	Version            string   `yaml:"version" json:"version"`
	HealthCheckTimeout Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
	BlueURL            string   `yaml:"blue_url" json:"blue_url,omitempty"`
	GreenURL           string   `yaml:"green_url" json:"green_url,omitempty"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":4200",
			ShutdownTimeout: Duration(30 * time.Second),
			MCP:             true,
		},
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "jaqflow.db")},
		Log:      LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			StepTimeout: Duration(30 * time.Second),
			PoolSize:    10,
			Persistence: true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     Duration(60 * time.Second),
			MonitoringPeriod: Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Actions: ActionsConfig{
			HTTPTimeout:         Duration(15 * time.Second),
			HTTPMaxResponseBody: 1 << 20,
		},
		Backup: BackupConfig{Dir: filepath.Join(dataDir, "backups"), Retain: 7},
		Deploy: DeployConfig{
			Version:            "dev",
			HealthCheckTimeout: Duration(10 * time.Second),
		},
		StateFile: filepath.Join(dataDir, "state.json"),
	}
}
