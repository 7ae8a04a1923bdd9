package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for the valet gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Subagents SubagentConfig  `json:"subagents,omitempty"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
	Tools     ToolsConfig     `json:"tools,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AgentConfig holds the reasoning-loop settings shared by every session.
type AgentConfig struct {
	Workspace     string `json:"workspace"`       // bootstrap files, skills/, memory/ live here
	StateDir      string `json:"state_dir"`       // sessions/, cron-store.json, registries
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window"`  // default 200000
	MaxIterations int    `json:"max_iterations"`  // tool-use round limit per turn (default 20)
	MaxTokens     int    `json:"max_tokens"`      // per-response output cap (default 8192)
	TurnTimeoutMs int    `json:"turn_timeout_ms"` // hard per-run timeout (default 5 min)

	// Compaction / memory-flush budgets.
	ReserveTokens         int `json:"reserve_tokens"`    // compaction reserve floor (default 20000)
	FlushSoftBudgetTokens int `json:"flush_soft_budget"` // pre-compaction flush margin (default 4000)
}

// ProviderConfig configures the model endpoint.
// APIKey is NEVER read from the config file — env VALET_API_KEY only.
type ProviderConfig struct {
	BaseURL           string  `json:"base_url,omitempty"` // default Anthropic API
	APIKey            string  `json:"-"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxRetries        int     `json:"max_retries,omitempty"`         // transport-level retries inside the client
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // 0 = unlimited
}

// ChannelsConfig enables transports. Adapters register themselves with the
// channel manager; this only decides which ones start.
type ChannelsConfig struct {
	Enabled []string `json:"enabled"` // e.g. ["loopback"]
}

// SchedulerConfig tunes the durable job engine.
type SchedulerConfig struct {
	MaxConcurrency         int `json:"max_concurrency,omitempty"`          // default 3
	MaxRetries             int `json:"max_retries,omitempty"`              // per firing, default 2
	RetryBaseDelayMs       int `json:"retry_base_delay_ms,omitempty"`      // default 5000
	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty"` // auto-disable threshold, default 5
	JobTimeoutMs           int `json:"job_timeout_ms,omitempty"`           // default 5 min
}

// SubagentConfig bounds background fan-out.
type SubagentConfig struct {
	MaxDepth              int `json:"max_depth,omitempty"`                // default 2
	MaxChildrenPerSession int `json:"max_children_per_session,omitempty"` // default 5
	MaxConcurrentTotal    int `json:"max_concurrent_total,omitempty"`     // default 10
}

// HeartbeatConfig drives proactive wake-ups.
type HeartbeatConfig struct {
	Enabled       bool `json:"enabled,omitempty"`
	IntervalMs    int  `json:"interval_ms,omitempty"`     // default 30 min
	MinIntervalMs int  `json:"min_interval_ms,omitempty"` // persisted floor, default 10 min
}

// MemoryConfig controls long-term memory consolidation.
type MemoryConfig struct {
	ConsolidationEnabled   bool `json:"consolidation_enabled,omitempty"`
	ConsolidationThreshold int  `json:"consolidation_threshold,omitempty"` // new messages, default 50
}

// ToolsConfig configures the builtin tool set.
type ToolsConfig struct {
	RestrictToWorkspace bool   `json:"restrict_to_workspace,omitempty"`
	ExecTimeoutMs       int    `json:"exec_timeout_ms,omitempty"` // default 2 min
	BraveAPIKey         string `json:"-"`                         // env VALET_BRAVE_API_KEY only
	BrowserEnabled      bool   `json:"browser_enabled,omitempty"`
	FetchMaxChars       int    `json:"fetch_max_chars,omitempty"` // default 50000
}

// TelemetryConfig configures the optional OTLP trace exporter.
// No endpoint means tracing stays a no-op.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port for OTLP/HTTP
	ServiceName  string `json:"service_name,omitempty"`  // default "valet"
	Insecure     bool   `json:"insecure,omitempty"`
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Agent.Workspace == "" {
		c.Agent.Workspace = "~/.valet/workspace"
	}
	if c.Agent.StateDir == "" {
		c.Agent.StateDir = "~/.valet/state"
	}
	c.Agent.Workspace = ExpandHome(c.Agent.Workspace)
	c.Agent.StateDir = ExpandHome(c.Agent.StateDir)

	if c.Agent.ContextWindow <= 0 {
		c.Agent.ContextWindow = 200_000
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 8192
	}
	if c.Agent.TurnTimeoutMs <= 0 {
		c.Agent.TurnTimeoutMs = 5 * 60 * 1000
	}
	if c.Agent.ReserveTokens < 20_000 {
		c.Agent.ReserveTokens = 20_000
	}
	if c.Agent.FlushSoftBudgetTokens <= 0 {
		c.Agent.FlushSoftBudgetTokens = 4000
	}

	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = 3
	}
	if c.Scheduler.MaxRetries < 0 {
		c.Scheduler.MaxRetries = 0
	} else if c.Scheduler.MaxRetries == 0 {
		c.Scheduler.MaxRetries = 2
	}
	if c.Scheduler.RetryBaseDelayMs <= 0 {
		c.Scheduler.RetryBaseDelayMs = 5000
	}
	if c.Scheduler.MaxConsecutiveFailures <= 0 {
		c.Scheduler.MaxConsecutiveFailures = 5
	}
	if c.Scheduler.JobTimeoutMs <= 0 {
		c.Scheduler.JobTimeoutMs = 5 * 60 * 1000
	}

	if c.Subagents.MaxDepth <= 0 {
		c.Subagents.MaxDepth = 2
	}
	if c.Subagents.MaxChildrenPerSession <= 0 {
		c.Subagents.MaxChildrenPerSession = 5
	}
	if c.Subagents.MaxConcurrentTotal <= 0 {
		c.Subagents.MaxConcurrentTotal = 10
	}

	if c.Heartbeat.IntervalMs <= 0 {
		c.Heartbeat.IntervalMs = 30 * 60 * 1000
	}
	if c.Heartbeat.MinIntervalMs <= 0 {
		c.Heartbeat.MinIntervalMs = 10 * 60 * 1000
	}

	if c.Memory.ConsolidationThreshold <= 0 {
		c.Memory.ConsolidationThreshold = 50
	}

	if c.Tools.ExecTimeoutMs <= 0 {
		c.Tools.ExecTimeoutMs = 2 * 60 * 1000
	}
	if c.Tools.FetchMaxChars <= 0 {
		c.Tools.FetchMaxChars = 50_000
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "valet"
	}
}
