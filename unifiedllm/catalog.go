package unifiedllm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	MaxOutput            *int     `json:"max_output,omitempty"`
	SupportsTools        bool     `json:"supports_tools"`
	SupportsVision       bool     `json:"supports_vision"`
	SupportsReasoning    bool     `json:"supports_reasoning"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

const (
	// DefaultModel drives sessions when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// StrongRecursiveModel is the sub-query model paired with small root models.
	StrongRecursiveModel = "gpt-4o"
)

// Models is the built-in model catalog. Within a provider, entries are
// ordered newest/best first.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(2.50), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"gpt4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(0.15), OutputCostPerMillion: floatPtr(0.60),
		Aliases: []string{"gpt4o-mini"},
	},
	{
		ID: "gpt-4-turbo", Provider: "openai", DisplayName: "GPT-4 Turbo",
		ContextWindow: 128000, MaxOutput: intPtr(4096),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(10.0), OutputCostPerMillion: floatPtr(30.0),
	},
	{
		ID: "gpt-5", Provider: "openai", DisplayName: "GPT-5",
		ContextWindow: 400000, MaxOutput: intPtr(128000),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(1.25), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5-nano", Provider: "openai", DisplayName: "GPT-5 Nano",
		ContextWindow: 400000, MaxOutput: intPtr(128000),
		SupportsTools: true, SupportsVision: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(0.05), OutputCostPerMillion: floatPtr(0.40),
		Aliases: []string{"gpt5-nano"},
	},

	// Anthropic
	{
		ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// Gemini
	{
		ID: "gemini-2.0-flash", Provider: "gemini", DisplayName: "Gemini 2.0 Flash",
		ContextWindow: 1048576, MaxOutput: intPtr(8192),
		SupportsTools: true, SupportsVision: true,
		InputCostPerMillion: floatPtr(0.10), OutputCostPerMillion: floatPtr(0.40),
		Aliases: []string{"gemini-flash"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (newest/best) model for a provider,
// optionally filtered by capability.
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "vision":
			if Models[i].SupportsVision {
				return &Models[i]
			}
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		case "reasoning":
			if Models[i].SupportsReasoning {
				return &Models[i]
			}
		}
	}
	return nil
}

// DefaultRecursiveModel picks the sub-query model for a root model when none
// is given: small models ("nano", "mini") delegate to StrongRecursiveModel,
// anything else recurses into itself.
func DefaultRecursiveModel(model string) string {
	if strings.Contains(model, "nano") || strings.Contains(model, "mini") {
		return StrongRecursiveModel
	}
	return model
}
