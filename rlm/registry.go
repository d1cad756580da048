package rlm

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/martinemde/rlm/unifiedllm"
)

// PairKey returns the registry key for a driving/recursive model pair.
func PairKey(model, recursive string) string {
	return model + ":" + recursive
}

// ParseModelPair splits "model:recursive". A bare model name leaves
// recursive empty.
func ParseModelPair(s string) (model, recursive string) {
	model, recursive, _ = strings.Cut(strings.TrimSpace(s), ":")
	return strings.TrimSpace(model), strings.TrimSpace(recursive)
}

// Registry hands out one Engine per model pair. It is built once at startup
// and shared by the HTTP and MCP front ends.
type Registry struct {
	client *unifiedllm.Client
	base   EngineConfig
	opts   []EngineOption

	mu      sync.RWMutex
	engines map[string]*Engine
	group   singleflight.Group
}

// NewRegistry creates a registry. base supplies every setting except the
// model pair.
func NewRegistry(client *unifiedllm.Client, base EngineConfig, opts ...EngineOption) *Registry {
	return &Registry{
		client:  client,
		base:    base.withDefaults(),
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// Default returns the engine for the configured default pair.
func (r *Registry) Default() *Engine {
	e, _ := r.Engine(r.base.Model, r.base.RecursiveModel)
	return e
}

// Base returns the configuration engines are derived from.
func (r *Registry) Base() EngineConfig {
	return r.base
}

// Engine returns the engine for model and recursive, creating it on first
// use. An empty model means the default; an empty recursive model is derived
// from model.
func (r *Registry) Engine(model, recursive string) (*Engine, error) {
	if model == "" {
		model = r.base.Model
	}
	if recursive == "" {
		if model == r.base.Model {
			recursive = r.base.RecursiveModel
		} else {
			recursive = unifiedllm.DefaultRecursiveModel(model)
		}
	}
	if model == "" || recursive == "" {
		return nil, errors.New("model pair must name a model")
	}
	key := PairKey(model, recursive)

	r.mu.RLock()
	e, ok := r.engines[key]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.engines[key]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		cfg := r.base
		cfg.Model = model
		cfg.RecursiveModel = recursive
		created := NewEngine(r.client, cfg, r.opts...)

		r.mu.Lock()
		r.engines[key] = created
		r.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Pairs returns the keys of every engine created so far, sorted.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.engines))
	for k := range r.engines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
