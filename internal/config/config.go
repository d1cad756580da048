// Package config loads rlm settings from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/rlm/rlm"
	"github.com/martinemde/rlm/unifiedllm"
)

// Backend names accepted in ModelConfig.Backend.
const (
	BackendOpenAI = "openai"
	BackendGollm  = "gollm"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Loop    LoopConfig    `yaml:"loop"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener and session store settings.
type ServerConfig struct {
	Host           string        `yaml:"host" env:"HOST"`
	Port           int           `yaml:"port" env:"PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"RLM_ALLOWED_ORIGINS" envSeparator:","`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"RLM_SESSION_TTL"`
	MaxSessions    int           `yaml:"max_sessions" env:"RLM_MAX_SESSIONS"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig selects the model pair and the backend that serves it.
type ModelConfig struct {
	Model          string `yaml:"model" env:"RLM_MODEL"`
	RecursiveModel string `yaml:"recursive_model" env:"RLM_RECURSIVE_MODEL"`
	// Backend is "openai" (native chat completions) or "gollm".
	Backend string `yaml:"backend" env:"RLM_BACKEND"`
	// Provider is the gollm provider name. Ignored by the openai backend.
	Provider string `yaml:"provider" env:"RLM_PROVIDER"`
	APIKey   string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL  string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

// LoopConfig bounds each session.
type LoopConfig struct {
	MaxIterations       int  `yaml:"max_iterations" env:"RLM_MAX_ITERATIONS"`
	MaxSubQueryDepth    int  `yaml:"max_sub_query_depth" env:"RLM_MAX_SUB_QUERY_DEPTH"`
	MaxOutputChars      int  `yaml:"max_output_chars" env:"RLM_MAX_OUTPUT_CHARS"`
	MaxOutputLines      int  `yaml:"max_output_lines" env:"RLM_MAX_OUTPUT_LINES"`
	SubQueryMaxChars    int  `yaml:"sub_query_max_chars" env:"RLM_SUB_QUERY_MAX_CHARS"`
	LoopDetection       bool `yaml:"loop_detection" env:"RLM_LOOP_DETECTION"`
	LoopDetectionWindow int  `yaml:"loop_detection_window" env:"RLM_LOOP_DETECTION_WINDOW"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"RLM_LOG_LEVEL"`
	// Verbose forces debug level and mirrors session events to the log.
	Verbose     bool `yaml:"verbose" env:"RLM_LOGGING"`
	Development bool `yaml:"development" env:"RLM_LOG_DEVELOPMENT"`
}

// Default returns the built-in configuration.
func Default() Config {
	engine := rlm.DefaultEngineConfig()
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
			SessionTTL:     rlm.DefaultSessionTTL,
			MaxSessions:    1000,
		},
		Model: ModelConfig{
			Model:    unifiedllm.DefaultModel,
			Backend:  BackendOpenAI,
			Provider: "openai",
		},
		Loop: LoopConfig{
			MaxIterations:       engine.MaxIterations,
			MaxSubQueryDepth:    engine.MaxSubQueryDepth,
			MaxOutputChars:      engine.MaxOutputChars,
			MaxOutputLines:      engine.MaxOutputLines,
			SubQueryMaxChars:    engine.SubQueryMaxChars,
			LoopDetection:       engine.EnableLoopDetection,
			LoopDetectionWindow: engine.LoopDetectionWindow,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; when it
// is empty RLM_CONFIG is consulted. Environment variables override the file.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment. A nil environ reads the process
// environment.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if environ != nil {
			path = environ["RLM_CONFIG"]
		} else {
			path = os.Getenv("RLM_CONFIG")
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Model.Backend = strings.ToLower(strings.TrimSpace(cfg.Model.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", c.Server.MaxSessions))
	}
	if c.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl must not be negative, got %s", c.Server.SessionTTL))
	}
	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations))
	}
	if c.Loop.MaxOutputChars <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_output_chars must be positive, got %d", c.Loop.MaxOutputChars))
	}
	switch c.Model.Backend {
	case BackendOpenAI, BackendGollm:
	default:
		errs = append(errs, fmt.Errorf("model.backend must be %q or %q, got %q", BackendOpenAI, BackendGollm, c.Model.Backend))
	}
	if c.Model.Model == "" {
		errs = append(errs, errors.New("model.model must not be empty"))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Engine converts the model and loop sections to an engine configuration.
func (c Config) Engine() rlm.EngineConfig {
	return rlm.EngineConfig{
		Model:               c.Model.Model,
		RecursiveModel:      c.Model.RecursiveModel,
		MaxIterations:       c.Loop.MaxIterations,
		MaxSubQueryDepth:    c.Loop.MaxSubQueryDepth,
		MaxOutputChars:      c.Loop.MaxOutputChars,
		MaxOutputLines:      c.Loop.MaxOutputLines,
		SubQueryMaxChars:    c.Loop.SubQueryMaxChars,
		EnableLoopDetection: c.Loop.LoopDetection,
		LoopDetectionWindow: c.Loop.LoopDetectionWindow,
	}
}
