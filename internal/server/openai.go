package server

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/unifiedllm"
)

// ChatMessage is one message in an OpenAI chat request. Content is a string,
// an array of content parts, or null.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ChatToolCall is a function call in OpenAI wire format.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall carries arguments as a JSON-encoded string.
type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool declares a caller-defined tool.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatFunction is a tool's schema.
type ChatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatCompletionRequest is the accepted subset of the OpenAI request body.
// Sampling fields are accepted for compatibility and ignored.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatCompletionResponse is the OpenAI-shaped reply.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatChoice is the single choice in a response.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message in a response. Content is null
// when the model only called tools.
type ResponseMessage struct {
	Role      string         `json:"role"`
	Content   *string        `json:"content"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

// Usage is always zero; token accounting is not tracked.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelEntry is one row of GET /v1/models.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models body.
type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

// ErrorBody is the OpenAI error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func messageText(m ChatMessage) string {
	text, err := contextnorm.ContentText(m.Content)
	if err != nil {
		return fmt.Sprint(m.Content)
	}
	return text
}

// extractContext picks the context a new run reads: the system messages if
// any, otherwise every message except the last.
func extractContext(messages []ChatMessage) any {
	var system []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, messageText(m))
		}
	}
	switch {
	case len(system) == 1:
		return system[0]
	case len(system) > 1:
		return system
	case len(messages) > 1:
		entries := make([]contextnorm.Entry, 0, len(messages)-1)
		for _, m := range messages[:len(messages)-1] {
			entries = append(entries, contextnorm.Entry{Role: m.Role, Content: messageText(m)})
		}
		return entries
	default:
		return ""
	}
}

// extractQuery returns the last user message, or the last message when no
// user message exists.
func extractQuery(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messageText(messages[i])
		}
	}
	if len(messages) > 0 {
		return messageText(messages[len(messages)-1])
	}
	return ""
}

// trailingToolResults returns the tool messages after the last non-tool
// message. Earlier tool messages belong to batches that were already
// resumed.
func trailingToolResults(messages []ChatMessage) []unifiedllm.ToolResult {
	start := len(messages)
	for start > 0 && messages[start-1].Role == "tool" {
		start--
	}
	if start == len(messages) {
		return nil
	}
	results := make([]unifiedllm.ToolResult, 0, len(messages)-start)
	for _, m := range messages[start:] {
		results = append(results, unifiedllm.ToolResult{
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			Content:    messageText(m),
		})
	}
	return results
}

func toolDefinitions(tools []ChatTool) ([]unifiedllm.ToolDefinition, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	defs := make([]unifiedllm.ToolDefinition, 0, len(tools))
	for i, t := range tools {
		if t.Type != "" && t.Type != "function" {
			return nil, fmt.Errorf("tools[%d]: unsupported type %q", i, t.Type)
		}
		if strings.TrimSpace(t.Function.Name) == "" {
			return nil, fmt.Errorf("tools[%d]: function name is required", i)
		}
		params := t.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

func wireToolCalls(calls []unifiedllm.ToolCall) []ChatToolCall {
	out := make([]ChatToolCall, 0, len(calls))
	for _, c := range calls {
		args := string(c.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, ChatToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: ChatFunctionCall{Name: c.Name, Arguments: args},
		})
	}
	return out
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
