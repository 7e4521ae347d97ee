// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/docker/go-units"
)

// Config holds all process-level settings. Values come from the
// environment with the defaults below.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"ADDR" envDefault:":8080"`

	// DBPath is the SQLite database file.
	DBPath string `env:"DB_PATH" envDefault:"data/opencodex.db"`

	// GeminiAPIKey authenticates the model provider.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	// Model is the default model used for generation.
	Model string `env:"MODEL" envDefault:"gemini-2.0-flash"`

	// SandboxMemoryLimit is the per-container memory ceiling,
	// in Docker size notation ("1g", "512m").
	SandboxMemoryLimit string `env:"SANDBOX_MEMORY_LIMIT" envDefault:"1g"`

	// SandboxCPUQuota is the CPU quota in microseconds per 100ms
	// period. 50000 is half of one core.
	SandboxCPUQuota int64 `env:"SANDBOX_CPU_QUOTA" envDefault:"50000"`

	// EnvironmentsDir holds the per-environment Dockerfiles used to
	// build sandbox images that are not present locally.
	EnvironmentsDir string `env:"ENVIRONMENTS_DIR" envDefault:"environments"`

	// MaxIterations bounds the agent loop per user turn.
	MaxIterations int `env:"AGENT_MAX_ITERATIONS" envDefault:"10"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// MemoryLimitBytes returns SandboxMemoryLimit parsed to bytes.
func (c *Config) MemoryLimitBytes() (int64, error) {
	n, err := units.RAMInBytes(c.SandboxMemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("parsing sandbox memory limit %q: %w", c.SandboxMemoryLimit, err)
	}
	return n, nil
}
