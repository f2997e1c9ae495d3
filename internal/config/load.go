package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JAQFLOW_"

// Load builds a validated Config: defaults, then the YAML file at path (a
// missing file is skipped), then environment overrides read through getenv.
func Load(path, dataDir string, getenv func(string) string) (Config, error) {
	cfg := Default(dataDir)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "read %s: %s", path, err).WithCause(err)
		default:
			if err := decodeYAML(data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if getenv != nil {
		if err := applyEnv(&cfg, getenv); err != nil {
			return Config{}, err
		}
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost" + cfg.Server.ListenAddr
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte, dataDir string) (Config, error) {
	cfg := Default(dataDir)
	if err := decodeYAML(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "parse config: %s", err).WithCause(err)
	}
	return nil
}

type envBinding struct {
	key string
	set func(*Config, string) error
}

var envBindings = []envBinding{
	{"LISTEN_ADDR", func(c *Config, v string) error { c.Server.ListenAddr = v; return nil }},
	{"BASE_URL", func(c *Config, v string) error { c.Server.BaseURL = v; return nil }},
	{"SHUTDOWN_TIMEOUT", func(c *Config, v string) error { return c.Server.ShutdownTimeout.UnmarshalText([]byte(v)) }},
	{"MCP", func(c *Config, v string) error { return setBool(&c.Server.MCP, v) }},
	{"DB_PATH", func(c *Config, v string) error { c.Database.Path = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil }},
	{"STEP_TIMEOUT", func(c *Config, v string) error { return c.Engine.StepTimeout.UnmarshalText([]byte(v)) }},
	{"POOL_SIZE", func(c *Config, v string) error { return setInt(&c.Engine.PoolSize, v) }},
	{"PERSISTENCE", func(c *Config, v string) error { return setBool(&c.Engine.Persistence, v) }},
	{"BREAKER_FAILURE_THRESHOLD", func(c *Config, v string) error { return setInt(&c.Breaker.FailureThreshold, v) }},
	{"BREAKER_RESET_TIMEOUT", func(c *Config, v string) error { return c.Breaker.ResetTimeout.UnmarshalText([]byte(v)) }},
	{"SCHEDULER", func(c *Config, v string) error { return setBool(&c.Scheduler.Enabled, v) }},
	{"BACKUP_DIR", func(c *Config, v string) error { c.Backup.Dir = v; return nil }},
	{"S3_BUCKET", func(c *Config, v string) error { c.Backup.S3.Bucket = v; return nil }},
	{"S3_REGION", func(c *Config, v string) error { c.Backup.S3.Region = v; return nil }},
	{"S3_PREFIX", func(c *Config, v string) error { c.Backup.S3.Prefix = v; return nil }},
	{"S3_ENDPOINT", func(c *Config, v string) error { c.Backup.S3.Endpoint = v; return nil }},
	{"S3_ACCESS_KEY_ID", func(c *Config, v string) error { c.Backup.S3.AccessKeyID = v; return nil }},
	{"S3_SECRET_ACCESS_KEY", func(c *Config, v string) error { c.Backup.S3.SecretAccessKey = v; return nil }},
	{"DEPLOY_VERSION", func(c *Config, v string) error { c.Deploy.Version = v; return nil }},
	{"STATE_FILE", func(c *Config, v string) error { c.StateFile = v; return nil }},
}

// EnvKeys lists every recognised environment variable.
func EnvKeys() []string {
	keys := make([]string, len(envBindings))
	for i, b := range envBindings {
		keys[i] = EnvPrefix + b.key
	}
	slices.Sort(keys)
	return keys
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	for _, b := range envBindings {
		v := getenv(EnvPrefix + b.key)
		if v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return schema.NewErrorf(schema.ErrCodeConfig, "%s%s: %s", EnvPrefix, b.key, err).WithCause(err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("not an integer: %q", v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("not a boolean: %q", v)
	}
	*dst = b
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
