// Package config provides configuration loading for issueflow.
//
// Configuration comes from an optional YAML file overlaid with ISSUEFLOW_*
// environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Parallel execution modes for "-parallel" phases.
const (
	ParallelSequential = "sequential"
	ParallelConcurrent = "concurrent"
)

// Arbiter providers.
const (
	ArbiterFirst  = "first"
	ArbiterHTTP   = "http"
	ArbiterBandit = "bandit"
)

// Config holds the complete issueflow configuration.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	Rules     RulesConfig     `koanf:"rules"`
	Arbiter   ArbiterConfig   `koanf:"arbiter"`
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// EngineConfig tunes the phase engine.
type EngineConfig struct {
	RewardIncrement     float64 `koanf:"reward_increment"`
	ParallelMode        string  `koanf:"parallel_mode"`
	ParallelWorkers     int     `koanf:"parallel_workers"`
	MaxPhaseInvocations int     `koanf:"max_phase_invocations"` // 0 = unlimited
}

// RulesConfig points at the declarative rule plugins.
type RulesConfig struct {
	Dir      string   `koanf:"dir"`
	Watch    bool     `koanf:"watch"`    // reload on change while serving
	Debounce Duration `koanf:"debounce"` // quiet period before a reload
}

// ArbiterConfig selects and configures the alternative-phase arbiter.
type ArbiterConfig struct {
	Provider string              `koanf:"provider"`
	HTTP     HTTPArbiterConfig   `koanf:"http"`
	Bandit   BanditArbiterConfig `koanf:"bandit"`
}

// HTTPArbiterConfig configures the remote decision service client.
type HTTPArbiterConfig struct {
	URL       string   `koanf:"url"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second
	Burst     int      `koanf:"burst"`
	Token     Secret   `koanf:"token"`
}

// BanditArbiterConfig configures the in-process epsilon-greedy arbiter.
type BanditArbiterConfig struct {
	Epsilon float64 `koanf:"epsilon"`
	Seed    uint64  `koanf:"seed"` // 0 = random
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// HeartbeatInterval spaces serve liveness logs. 0 disables them.
	HeartbeatInterval Duration `koanf:"heartbeat_interval"`
}

// NATSConfig configures the issue intake subscriber.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Subject       string `koanf:"subject"`
	ResultSubject string `koanf:"result_subject"`
	Queue         string `koanf:"queue"`
}

// LoggingConfig is the file/env view of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"` // stdout, stderr or otel
}

// TelemetryConfig is the file/env view of OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Endpoint     string   `koanf:"endpoint"`
	Protocol     string   `koanf:"protocol"` // grpc or http
	Insecure     bool     `koanf:"insecure"`
	SamplingRate float64  `koanf:"sampling_rate"`
	Metrics      bool     `koanf:"metrics"`
	Interval     Duration `koanf:"interval"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, func(string) bool { return false })
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.RewardIncrement < 0 {
		return fmt.Errorf("engine.reward_increment must be >= 0, got %v", c.Engine.RewardIncrement)
	}
	switch c.Engine.ParallelMode {
	case ParallelSequential, ParallelConcurrent:
	default:
		return fmt.Errorf("engine.parallel_mode must be %q or %q, got %q",
			ParallelSequential, ParallelConcurrent, c.Engine.ParallelMode)
	}
	if c.Engine.ParallelWorkers < 1 {
		return fmt.Errorf("engine.parallel_workers must be >= 1, got %d", c.Engine.ParallelWorkers)
	}
	if c.Engine.MaxPhaseInvocations < 0 {
		return errors.New("engine.max_phase_invocations must be >= 0")
	}

	switch c.Arbiter.Provider {
	case ArbiterFirst:
	case ArbiterHTTP:
		if c.Arbiter.HTTP.URL == "" {
			return errors.New("arbiter.http.url is required for the http arbiter")
		}
		if c.Arbiter.HTTP.RateLimit <= 0 || c.Arbiter.HTTP.Burst < 1 {
			return errors.New("arbiter.http.rate_limit and burst must be positive")
		}
	case ArbiterBandit:
		if c.Arbiter.Bandit.Epsilon < 0 || c.Arbiter.Bandit.Epsilon > 1 {
			return fmt.Errorf("arbiter.bandit.epsilon must be between 0 and 1, got %v", c.Arbiter.Bandit.Epsilon)
		}
	default:
		return fmt.Errorf("unknown arbiter.provider %q", c.Arbiter.Provider)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.HeartbeatInterval < 0 {
		return errors.New("server.heartbeat_interval must be >= 0")
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		return errors.New("nats.url and nats.subject are required when nats is enabled")
	}

	switch c.Logging.Output {
	case "stdout", "stderr", "otel":
	default:
		return fmt.Errorf("logging.output must be stdout, stderr or otel, got %q", c.Logging.Output)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate)
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
// Fields where zero is a legal setting are defaulted only when isSet reports
// the key absent.
func applyDefaults(cfg *Config, isSet func(key string) bool) {
	if !isSet("engine.reward_increment") {
		cfg.Engine.RewardIncrement = 1.0
	}
	if cfg.Engine.ParallelMode == "" {
		cfg.Engine.ParallelMode = ParallelSequential
	}
	if cfg.Engine.ParallelWorkers == 0 {
		cfg.Engine.ParallelWorkers = 4
	}

	if cfg.Rules.Dir == "" {
		cfg.Rules.Dir = "rules"
	}
	if cfg.Rules.Debounce == 0 {
		cfg.Rules.Debounce = Duration(500 * time.Millisecond)
	}

	if cfg.Arbiter.Provider == "" {
		cfg.Arbiter.Provider = ArbiterFirst
	}
	if cfg.Arbiter.HTTP.Timeout == 0 {
		cfg.Arbiter.HTTP.Timeout = Duration(5 * time.Second)
	}
	if cfg.Arbiter.HTTP.RateLimit == 0 {
		cfg.Arbiter.HTTP.RateLimit = 20
	}
	if cfg.Arbiter.HTTP.Burst == 0 {
		cfg.Arbiter.HTTP.Burst = 5
	}
	if !isSet("arbiter.bandit.epsilon") {
		cfg.Arbiter.Bandit.Epsilon = 0.1
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if !isSet("server.heartbeat_interval") {
		cfg.Server.HeartbeatInterval = Duration(time.Minute)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "issueflow.issues"
	}
	if cfg.NATS.ResultSubject == "" {
		cfg.NATS.ResultSubject = "issueflow.results"
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = "issueflow"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if !isSet("telemetry.sampling_rate") {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = Duration(15 * time.Second)
	}
}
