package config

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jaqedu/jaqflow/internal/validation"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

const configSchemaURL = "https://jaqedu.dev/schemas/config.json"

const durationPattern = `^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["server", "database", "log", "engine", "breaker"],
  "properties": {
    "server": {
      "type": "object",
      "required": ["listen_addr"],
      "properties": {
        "listen_addr": {"type": "string", "minLength": 1},
        "base_url": {"type": "string"},
        "shutdown_timeout": {"$ref": "#/$defs/duration"},
        "mcp": {"type": "boolean"}
      }
    },
    "database": {
      "type": "object",
      "required": ["path"],
      "properties": {"path": {"type": "string", "minLength": 1}}
    },
    "log": {
      "type": "object",
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "warning", "error"]},
        "format": {"enum": ["text", "json"]}
      }
    },
    "engine": {
      "type": "object",
      "properties": {
        "step_timeout": {"$ref": "#/$defs/duration"},
        "pool_size": {"type": "integer", "minimum": 1, "maximum": 1024},
        "persistence": {"type": "boolean"}
      }
    },
    "breaker": {
      "type": "object",
      "properties": {
        "failure_threshold": {"type": "integer", "minimum": 1, "maximum": 1000},
        "reset_timeout": {"$ref": "#/$defs/duration"},
        "monitoring_period": {"$ref": "#/$defs/duration"}
      }
    },
    "scheduler": {"type": "object"},
    "actions": {
      "type": "object",
      "properties": {
        "http_timeout": {"$ref": "#/$defs/duration"},
        "http_max_response_body": {"type": "integer", "minimum": 1024}
      }
    },
    "backup": {
      "type": "object",
      "properties": {
        "dir": {"type": "string"},
        "retain": {"type": "integer", "minimum": 0, "maximum": 365},
        "s3": {"type": "object"}
      }
    },
    "deploy": {
      "type": "object",
      "properties": {
        "version": {"type": "string"},
        "health_check_timeout": {"$ref": "#/$defs/duration"},
        "blue_url": {"type": "string"},
        "green_url": {"type": "string"}
      }
    },
    "state_file": {"type": "string"}
  },
  "$defs": {
    "duration": {"type": "string", "pattern": "` + durationPattern + `"}
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func configSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = validation.CompileSchema(configSchemaURL, configSchemaJSON)
	})
	return compiledSchema, compileErr
}

// Validate checks types and ranges. Every failure is a CONFIG_ERROR whose
// details carry the individual violations.
func Validate(cfg Config) error {
	s, err := configSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "config schema unavailable").WithCause(err)
	}
	if err := validation.ValidateDocument(s, cfg); err != nil {
		return asConfigError(err)
	}

	var violations []string
	positive := map[string]Duration{
		"/engine/step_timeout":       cfg.Engine.StepTimeout,
		"/breaker/reset_timeout":     cfg.Breaker.ResetTimeout,
		"/breaker/monitoring_period": cfg.Breaker.MonitoringPeriod,
		"/server/shutdown_timeout":   cfg.Server.ShutdownTimeout,
	}
	for _, path := range sortedKeys(positive) {
		if positive[path] <= 0 {
			violations = append(violations, path+": must be greater than 0")
		}
	}
	if len(violations) > 0 {
		return schema.NewError(schema.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return nil
}

func asConfigError(err error) *schema.EngineError {
	out := schema.NewError(schema.ErrCodeConfig, "invalid configuration: "+schema.Message(err)).WithCause(err)
	if ee, ok := err.(*schema.EngineError); ok && ee.Details != nil {
		out.Details = ee.Details
	}
	return out
}
