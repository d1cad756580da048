package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/rlm/internal/config"
	"github.com/martinemde/rlm/unifiedllm"
)

// newModelClient builds a client with a single provider chosen by
// cfg.Backend.
func newModelClient(cfg config.ModelConfig, logger *zap.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	switch cfg.Backend {
	case config.BackendGollm:
		// OPENAI_API_KEY only applies to the openai provider; gollm reads
		// other providers' keys from their own variables.
		key := ""
		if cfg.Provider == "openai" {
			key = cfg.APIKey
		}
		a, err := unifiedllm.NewGollmAdapter(cfg.Provider, key, unifiedllm.WithModel(cfg.Model))
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		adapter = unifiedllm.NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, unifiedllm.WithOpenAIModel(cfg.Model))
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(adapter.Name(), adapter),
		unifiedllm.WithDefaultProvider(adapter.Name()),
		unifiedllm.WithMiddleware(logRequests(logger)),
	), nil
}

// logRequests logs every model call at debug level and failures at warn.
func logRequests(logger *zap.Logger) unifiedllm.Middleware {
	return func(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error)) (*unifiedllm.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Int("tools", len(req.ToolDefs)),
			zap.Duration("duration", time.Since(start)),
		}
		if sid := req.Metadata["session_id"]; sid != "" {
			fields = append(fields, zap.String("session_id", sid))
		}
		if err != nil {
			logger.Warn("model call failed", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Debug("model call", append(fields, zap.String("finish_reason", resp.FinishReason.Reason))...)
		return resp, nil
	}
}
