package rlm

import (
	"context"

	"go.uber.org/zap"

	"github.com/martinemde/rlm/replenv"
	"github.com/martinemde/rlm/unifiedllm"
)

// EngineConfig holds the settings shared by every session an engine creates.
type EngineConfig struct {
	Model          string `json:"model" yaml:"model"`
	RecursiveModel string `json:"recursive_model" yaml:"recursive_model"`
	Provider       string `json:"provider,omitempty" yaml:"provider"`

	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// MaxSubQueryDepth bounds llm_query nesting. Negative disables
	// sub-queries entirely.
	MaxSubQueryDepth int `json:"max_sub_query_depth" yaml:"max_sub_query_depth"`

	MaxOutputChars    int    `json:"max_output_chars" yaml:"max_output_chars"`
	MaxOutputLines    int    `json:"max_output_lines" yaml:"max_output_lines"`
	MaxExecutionSteps uint64 `json:"max_execution_steps" yaml:"max_execution_steps"`
	SubQueryMaxChars  int    `json:"sub_query_max_chars" yaml:"sub_query_max_chars"`

	EnableLoopDetection bool `json:"enable_loop_detection" yaml:"enable_loop_detection"`
	LoopDetectionWindow int  `json:"loop_detection_window" yaml:"loop_detection_window"`
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Model:               unifiedllm.DefaultModel,
		RecursiveModel:      unifiedllm.DefaultRecursiveModel(unifiedllm.DefaultModel),
		MaxIterations:       20,
		MaxSubQueryDepth:    1,
		MaxOutputChars:      20000,
		MaxOutputLines:      400,
		MaxExecutionSteps:   replenv.DefaultMaxSteps,
		SubQueryMaxChars:    100000,
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
	}
}

// withDefaults fills zero fields from DefaultEngineConfig.
func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.RecursiveModel == "" {
		c.RecursiveModel = unifiedllm.DefaultRecursiveModel(c.Model)
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	switch {
	case c.MaxSubQueryDepth < 0:
		c.MaxSubQueryDepth = 0
	case c.MaxSubQueryDepth == 0:
		c.MaxSubQueryDepth = d.MaxSubQueryDepth
	}
	if c.MaxOutputChars <= 0 {
		c.MaxOutputChars = d.MaxOutputChars
	}
	if c.MaxOutputLines < 0 {
		c.MaxOutputLines = 0
	}
	if c.MaxExecutionSteps == 0 {
		c.MaxExecutionSteps = d.MaxExecutionSteps
	}
	if c.SubQueryMaxChars <= 0 {
		c.SubQueryMaxChars = d.SubQueryMaxChars
	}
	if c.LoopDetectionWindow <= 0 {
		c.LoopDetectionWindow = d.LoopDetectionWindow
	}
	return c
}

// Engine creates sessions bound to one model pair and one client.
type Engine struct {
	client      *unifiedllm.Client
	config      EngineConfig
	logger      *zap.Logger
	eventBuffer int
	caps        *replenv.CapabilityRegistry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger passed to sessions and their environments.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEventBuffer sets the per-session event channel size.
func WithEventBuffer(n int) EngineOption {
	return func(e *Engine) {
		e.eventBuffer = n
	}
}

// WithCapabilities replaces the default REPL capability set. Each session
// gets its own clone.
func WithCapabilities(r *replenv.CapabilityRegistry) EngineOption {
	return func(e *Engine) {
		e.caps = r
	}
}

// NewEngine creates an engine. Zero fields in config take their defaults.
func NewEngine(client *unifiedllm.Client, config EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		client:      client,
		config:      config.withDefaults(),
		logger:      zap.NewNop(),
		eventBuffer: 256,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Client returns the model client sessions use.
func (e *Engine) Client() *unifiedllm.Client {
	return e.client
}

// SessionOption adjusts one session's configuration.
type SessionOption func(*EngineConfig)

// WithMaxIterations overrides the iteration budget for one session.
func WithMaxIterations(n int) SessionOption {
	return func(c *EngineConfig) {
		if n > 0 {
			c.MaxIterations = n
		}
	}
}

// NewSession creates an idle session. The first Completion call initializes it.
func (e *Engine) NewSession(opts ...SessionOption) *Session {
	cfg := e.config
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(e, cfg)
}

// Query runs one session to completion without external tools and closes
// it. It never pauses.
func (e *Engine) Query(ctx context.Context, input any, query string, opts ...SessionOption) (*Result, error) {
	sess := e.NewSession(opts...)
	defer sess.Close()
	return sess.Completion(ctx, Input{Context: input, Query: query})
}

func (e *Engine) capabilities() *replenv.CapabilityRegistry {
	if e.caps == nil {
		return replenv.DefaultCapabilities()
	}
	return e.caps.Clone()
}
