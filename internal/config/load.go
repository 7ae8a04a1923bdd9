package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Env variable names for secrets. Secrets never live in the config file.
const (
	EnvAPIKey      = "VALET_API_KEY"
	EnvBraveAPIKey = "VALET_BRAVE_API_KEY"
)

// Load reads a JSON5 config file, applies defaults, and pulls secrets from
// the environment. A missing file yields a default config (secrets still
// loaded from env).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	cfg.Provider.APIKey = os.Getenv(EnvAPIKey)
	cfg.Tools.BraveAPIKey = os.Getenv(EnvBraveAPIKey)
	return cfg, nil
}

// Validate fails fast on configuration the gateway cannot start without.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("no model API key: set %s", EnvAPIKey)
	}
	if len(c.Channels.Enabled) == 0 {
		return fmt.Errorf("no enabled channels: set channels.enabled")
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent.model is required")
	}
	return nil
}
