package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forge-labs/forge/internal/pipeline/liquiditypipe"
	"github.com/forge-labs/forge/internal/queue"
)

// Config is the root configuration structure for the orchestrator.
type Config struct {
	General GeneralConfig               `yaml:"general"`
	API     APIConfig                   `yaml:"api"`
	Storage StorageConfig               `yaml:"storage"`
	Queues  QueuesConfig                `yaml:"queues"`
	Events  EventsConfig                `yaml:"events"`
	Advisor liquiditypipe.AdvisorConfig `yaml:"advisor"`
	Metrics MetricsConfig               `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text

	// ShutdownTimeout bounds the drain phase: in-flight jobs past it are
	// abandoned to the restart retry path.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	Mode         string `yaml:"mode"` // memory|postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// QueuesConfig carries one policy per queue. Zero-valued fields inherit the
// production defaults.
type QueuesConfig struct {
	Launch    queue.Policy `yaml:"launch"`
	Liquidity queue.Policy `yaml:"liquidity"`
	Risk      queue.Policy `yaml:"risk"`
}

type EventsConfig struct {
	// Buffer is the per-subscriber channel depth; a full channel drops.
	Buffer int `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate rejects configurations that cannot be started.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.mode is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.mode %q (want memory or postgres)", c.Storage.Mode)
	}
	switch c.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown general.log_format %q (want json or text)", c.General.LogFormat)
	}
	for _, p := range []struct {
		name   string
		policy queue.Policy
	}{
		{"launch", c.Queues.Launch},
		{"liquidity", c.Queues.Liquidity},
		{"risk", c.Queues.Risk},
	} {
		if p.policy.Concurrency <= 0 || p.policy.MaxAttempts <= 0 {
			return fmt.Errorf("queues.%s: concurrency and max_attempts must be positive", p.name)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "forge-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.ShutdownTimeout == 0 {
		cfg.General.ShutdownTimeout = 30 * time.Second
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 10 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 30 * time.Second
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "memory"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}

	defaults := queue.DefaultPolicies()
	mergePolicy(&cfg.Queues.Launch, defaults[queue.QueueLaunch])
	mergePolicy(&cfg.Queues.Liquidity, defaults[queue.QueueLiquidity])
	mergePolicy(&cfg.Queues.Risk, defaults[queue.QueueRisk])

	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = 16
	}

	adv := liquiditypipe.DefaultAdvisorConfig()
	if cfg.Advisor.MinAPRImprovementPct == 0 {
		cfg.Advisor.MinAPRImprovementPct = adv.MinAPRImprovementPct
	}
	if cfg.Advisor.MinConfidence == 0 {
		cfg.Advisor.MinConfidence = adv.MinConfidence
	}
	if cfg.Advisor.MinInterval == 0 {
		cfg.Advisor.MinInterval = adv.MinInterval
	}
}

// mergePolicy fills zero-valued policy fields from the per-queue default.
func mergePolicy(p *queue.Policy, def queue.Policy) {
	if p.Concurrency == 0 {
		p.Concurrency = def.Concurrency
	}
	if p.RateLimit == 0 {
		p.RateLimit = def.RateLimit
	}
	if p.RateWindow == 0 {
		p.RateWindow = def.RateWindow
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = def.BackoffBase
	}
	if p.BackoffCap == 0 {
		p.BackoffCap = def.BackoffCap
	}
	if p.KeepTerminal == 0 {
		p.KeepTerminal = def.KeepTerminal
	}
}
