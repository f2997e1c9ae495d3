package config

// Diff describes what changed between two configurations.
type Diff struct {
	LogChanged     bool     `json:"log_changed"`
	BreakerChanged bool     `json:"breaker_changed"`
	EngineChanged  bool     `json:"engine_changed"`
	MCPChanged     bool     `json:"mcp_changed"`
	RestartNeeded  []string `json:"restart_needed,omitempty"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogChanged && !d.BreakerChanged && !d.EngineChanged && !d.MCPChanged && len(d.RestartNeeded) == 0
}

// DiffConfigs compares old and new. Log, breaker and MCP settings apply live; the
// fields listed in RestartNeeded only take effect after a restart.
func DiffConfigs(old, new Config) Diff {
	var d Diff
	d.LogChanged = old.Log != new.Log
	d.BreakerChanged = old.Breaker != new.Breaker
	d.EngineChanged = old.Engine.StepTimeout != new.Engine.StepTimeout
	d.MCPChanged = old.Server.MCP != new.Server.MCP

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.base_url", old.Server.BaseURL != new.Server.BaseURL},
		{"database.path", old.Database.Path != new.Database.Path},
		{"engine.pool_size", old.Engine.PoolSize != new.Engine.PoolSize},
		{"engine.persistence", old.Engine.Persistence != new.Engine.Persistence},
		{"scheduler.enabled", old.Scheduler != new.Scheduler},
		{"actions", old.Actions != new.Actions},
		{"backup", old.Backup != new.Backup},
		{"deploy", old.Deploy != new.Deploy},
		{"state_file", old.StateFile != new.StateFile},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartNeeded = append(d.RestartNeeded, r.name)
		}
	}
	return d
}
