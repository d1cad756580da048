package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/unifiedllm"
)

func TestExtractContext(t *testing.T) {
	tests := []struct {
		name     string
		messages []ChatMessage
		want     any
	}{
		{
			name:     "single system message",
			messages: []ChatMessage{{Role: "system", Content: "doc"}, {Role: "user", Content: "q"}},
			want:     "doc",
		},
		{
			name: "several system messages",
			messages: []ChatMessage{
				{Role: "system", Content: "a"},
				{Role: "system", Content: []any{map[string]any{"type": "text", "text": "b"}}},
				{Role: "user", Content: "q"},
			},
			want: []string{"a", "b"},
		},
		{
			name: "earlier turns",
			messages: []ChatMessage{
				{Role: "user", Content: "first"},
				{Role: "assistant", Content: "reply"},
				{Role: "user", Content: "q"},
			},
			want: []contextnorm.Entry{{Role: "user", Content: "first"}, {Role: "assistant", Content: "reply"}},
		},
		{
			name:     "query only",
			messages: []ChatMessage{{Role: "user", Content: "q"}},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, extractContext(tt.messages)); diff != "" {
				t.Errorf("extractContext mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractQuery(t *testing.T) {
	assert.Equal(t, "second", extractQuery([]ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "reply"},
	}))
	assert.Equal(t, "sys", extractQuery([]ChatMessage{{Role: "system", Content: "sys"}}))
	assert.Equal(t, "", extractQuery(nil))
}

func TestTrailingToolResults(t *testing.T) {
	messages := []ChatMessage{
		{Role: "user", Content: "q"},
		{Role: "tool", ToolCallID: "old", Content: "stale"},
		{Role: "assistant"},
		{Role: "tool", ToolCallID: "a", Name: "f", Content: "1"},
		{Role: "tool", ToolCallID: "b", Content: []any{map[string]any{"type": "text", "text": "2"}}},
	}
	want := []unifiedllm.ToolResult{
		{ToolCallID: "a", Name: "f", Content: "1"},
		{ToolCallID: "b", Content: "2"},
	}
	if diff := cmp.Diff(want, trailingToolResults(messages)); diff != "" {
		t.Errorf("trailingToolResults mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, trailingToolResults(messages[:3]))
}

func TestToolDefinitionsDefaultsParameters(t *testing.T) {
	defs, err := toolDefinitions([]ChatTool{{Type: "function", Function: ChatFunction{Name: "ping"}}})
	assert.NoError(t, err)
	assert.Equal(t, "object", defs[0].Parameters["type"])

	_, err = toolDefinitions([]ChatTool{{Type: "retrieval", Function: ChatFunction{Name: "x"}}})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestWireToolCalls(t *testing.T) {
	got := wireToolCalls([]unifiedllm.ToolCall{{ID: "c1", Name: "f"}})
	assert.Equal(t, []ChatToolCall{{ID: "c1", Type: "function", Function: ChatFunctionCall{Name: "f", Arguments: "{}"}}}, got)
}
