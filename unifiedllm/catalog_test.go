package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	// By exact ID.
	info := GetModelInfo("gpt-4o-mini")
	if info == nil {
		t.Fatal("expected to find gpt-4o-mini")
	}
	if info.Provider != "openai" {
		t.Errorf("expected provider %q, got %q", "openai", info.Provider)
	}
	if info.ContextWindow != 128000 {
		t.Errorf("expected context window 128000, got %d", info.ContextWindow)
	}
	if !info.SupportsTools {
		t.Error("expected supports_tools = true")
	}

	// By alias.
	info = GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected to find model by alias 'sonnet'")
	}
	if info.ID != "claude-3-5-sonnet-20241022" {
		t.Errorf("expected id %q, got %q", "claude-3-5-sonnet-20241022", info.ID)
	}

	// Unknown model.
	info = GetModelInfo("nonexistent-model")
	if info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	all := ListModels("")
	if len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}

	openai := ListModels("openai")
	if len(openai) != 5 {
		t.Errorf("expected 5 OpenAI models, got %d", len(openai))
	}
	for _, m := range openai {
		if m.Provider != "openai" {
			t.Errorf("expected provider openai, got %q", m.Provider)
		}
	}

	if n := len(ListModels("anthropic")); n != 1 {
		t.Errorf("expected 1 Anthropic model, got %d", n)
	}
	if n := len(ListModels("gemini")); n != 1 {
		t.Errorf("expected 1 Gemini model, got %d", n)
	}

	empty := ListModels("nonexistent")
	if len(empty) != 0 {
		t.Errorf("expected 0 models for nonexistent provider, got %d", len(empty))
	}
}

func TestGetLatestModel(t *testing.T) {
	info := GetLatestModel("openai", "")
	if info == nil {
		t.Fatal("expected to find latest OpenAI model")
	}
	if info.ID != "gpt-4o" {
		t.Errorf("expected %q, got %q", "gpt-4o", info.ID)
	}

	info = GetLatestModel("openai", "reasoning")
	if info == nil {
		t.Fatal("expected to find OpenAI reasoning model")
	}
	if !info.SupportsReasoning {
		t.Error("expected supports_reasoning = true")
	}

	info = GetLatestModel("nonexistent", "")
	if info != nil {
		t.Errorf("expected nil for nonexistent provider, got %v", info)
	}
}

func TestDefaultRecursiveModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "gpt-4o"},
		{"gpt-5-nano", "gpt-4o"},
		{"gpt-5", "gpt-5"},
		{"claude-3-5-sonnet-20241022", "claude-3-5-sonnet-20241022"},
	}
	for _, tt := range tests {
		if got := DefaultRecursiveModel(tt.model); got != tt.want {
			t.Errorf("DefaultRecursiveModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestModelInfoFields(t *testing.T) {
	for _, m := range Models {
		if m.ID == "" {
			t.Error("model ID must not be empty")
		}
		if m.Provider == "" {
			t.Errorf("model %q: provider must not be empty", m.ID)
		}
		if m.DisplayName == "" {
			t.Errorf("model %q: display_name must not be empty", m.ID)
		}
		if m.ContextWindow <= 0 {
			t.Errorf("model %q: context_window must be positive", m.ID)
		}
	}
}
