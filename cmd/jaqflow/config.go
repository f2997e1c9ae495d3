package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaqedu/jaqflow/internal/config"
)

// dataDir is $JAQFLOW_HOME, or ~/.jaqflow.
func dataDir() string {
	if v := os.Getenv("JAQFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jaqflow"
	}
	return filepath.Join(home, ".jaqflow")
}

func defaultConfigPath() string {
	if v := os.Getenv("JAQFLOW_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(dataDir(), "config.yaml")
}

// configFlag registers the -config flag shared by every command.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", defaultConfigPath(), "path to the YAML config file")
}

// loadConfig layers defaults, the YAML file and JAQFLOW_* env vars.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path, dataDir(), os.Getenv)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
