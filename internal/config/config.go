// Package config handles songpond configuration loading.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/songpond/internal/agents"
	"github.com/talgya/songpond/internal/conversation"
	"github.com/talgya/songpond/internal/economy"
	"github.com/talgya/songpond/internal/harmony"
)

// Config is the root configuration structure.
type Config struct {
	// Seed drives every stochastic decision; 0 picks a fresh random seed.
	Seed int64 `yaml:"seed"`

	// TickSeconds is the fixed simulation step (50ms recommended).
	TickSeconds float64 `yaml:"tick_seconds"`

	// Coupling is the ring coupling strength K, clamped to [0, 0.5].
	Coupling float64 `yaml:"coupling"`

	// LookAheadSeconds pads note start times so renderers get scheduling slack.
	LookAheadSeconds float64 `yaml:"look_ahead_seconds"`

	// VizEveryTicks emits the visualization snapshot every Nth tick (0 = off).
	VizEveryTicks int `yaml:"viz_every_ticks"`

	// ReportEveryTicks logs a summary report every Nth tick (0 = off).
	ReportEveryTicks int `yaml:"report_every_ticks"`

	Spawn        agents.SpawnConfig  `yaml:"spawn"`
	Conversation conversation.Config `yaml:"conversation"`
	Economy      economy.Config      `yaml:"economy"`
	Harmony      harmony.Config      `yaml:"harmony"`

	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds run-recorder settings. An empty path disables recording.
type DBConfig struct {
	Path                string `yaml:"path"`
	CoherenceEveryTicks int    `yaml:"coherence_every_ticks"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Seed:             0,
		TickSeconds:      0.05,
		Coupling:         0.15,
		LookAheadSeconds: 0.1,
		VizEveryTicks:    2,
		ReportEveryTicks: 200,
		Spawn:            agents.DefaultSpawnConfig(),
		Conversation:     conversation.DefaultConfig(),
		Economy:          economy.DefaultConfig(),
		Harmony:          harmony.DefaultConfig(),
		Server:           ServerConfig{Port: 8080},
		DB: DBConfig{
			Path:                "data/songpond.db",
			CoherenceEveryTicks: 20,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive, got %v", c.TickSeconds)
	}
	if c.Spawn.Count < 0 {
		return fmt.Errorf("spawn.count must be non-negative, got %d", c.Spawn.Count)
	}
	if c.Coupling < 0 || c.Coupling > 0.5 {
		return fmt.Errorf("coupling must be in [0, 0.5], got %v", c.Coupling)
	}
	if c.LookAheadSeconds < 0 {
		return fmt.Errorf("look_ahead_seconds must be non-negative, got %v", c.LookAheadSeconds)
	}
	if len(c.Conversation.ResponseWindows) == 0 {
		return fmt.Errorf("conversation.response_windows must not be empty")
	}
	return nil
}
