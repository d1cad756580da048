package rlm

import (
	"time"

	"github.com/martinemde/rlm/unifiedllm"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	TurnSystem      TurnKind = "system"
	TurnUser        TurnKind = "user"
	TurnAssistant   TurnKind = "assistant"
	TurnToolResults TurnKind = "tool_results"
	TurnObservation TurnKind = "observation"
	TurnSteering    TurnKind = "steering"
)

// Turn is a single entry in the conversation history.
type Turn struct {
	Kind        TurnKind         `json:"kind"`
	Timestamp   time.Time        `json:"timestamp"`
	System      *SystemTurn      `json:"system,omitempty"`
	User        *UserTurn        `json:"user,omitempty"`
	Assistant   *AssistantTurn   `json:"assistant,omitempty"`
	ToolResults *ToolResultsTurn `json:"tool_results,omitempty"`
	Observation *ObservationTurn `json:"observation,omitempty"`
	Steering    *SteeringTurn    `json:"steering,omitempty"`
}

// SystemTurn holds the system prompt.
type SystemTurn struct {
	Content string `json:"content"`
}

// UserTurn holds the query.
type UserTurn struct {
	Content string `json:"content"`
}

// AssistantTurn holds the model's response exactly as produced.
type AssistantTurn struct {
	Content    string                `json:"content"`
	ToolCalls  []unifiedllm.ToolCall `json:"tool_calls,omitempty"`
	CodeBlocks []CodeBlock           `json:"code_blocks,omitempty"`
	ResponseID string                `json:"response_id,omitempty"`
}

// ToolResultsTurn holds results supplied by the caller for a pending batch.
type ToolResultsTurn struct {
	Results []unifiedllm.ToolResult `json:"results"`
}

// ObservationTurn holds the rendered output of executed code blocks.
type ObservationTurn struct {
	Content string `json:"content"`
	Blocks  int    `json:"blocks"`
	Failed  int    `json:"failed,omitempty"`
}

// SteeringTurn holds an instruction injected by the loop itself.
type SteeringTurn struct {
	Content string `json:"content"`
}

// NewSystemTurn creates a Turn wrapping a system message.
func NewSystemTurn(content string) Turn {
	return Turn{
		Kind:      TurnSystem,
		Timestamp: time.Now(),
		System:    &SystemTurn{Content: content},
	}
}

// NewUserTurn creates a Turn wrapping user input.
func NewUserTurn(content string) Turn {
	return Turn{
		Kind:      TurnUser,
		Timestamp: time.Now(),
		User:      &UserTurn{Content: content},
	}
}

// NewAssistantTurn creates a Turn wrapping an assistant response.
func NewAssistantTurn(content string, toolCalls []unifiedllm.ToolCall, blocks []CodeBlock, responseID string) Turn {
	return Turn{
		Kind:      TurnAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantTurn{
			Content:    content,
			ToolCalls:  toolCalls,
			CodeBlocks: blocks,
			ResponseID: responseID,
		},
	}
}

// NewToolResultsTurn creates a Turn wrapping tool results.
func NewToolResultsTurn(results []unifiedllm.ToolResult) Turn {
	return Turn{
		Kind:        TurnToolResults,
		Timestamp:   time.Now(),
		ToolResults: &ToolResultsTurn{Results: results},
	}
}

// NewObservationTurn creates a Turn wrapping code execution output.
func NewObservationTurn(content string, blocks, failed int) Turn {
	return Turn{
		Kind:        TurnObservation,
		Timestamp:   time.Now(),
		Observation: &ObservationTurn{Content: content, Blocks: blocks, Failed: failed},
	}
}

// NewSteeringTurn creates a Turn wrapping a steering message.
func NewSteeringTurn(content string) Turn {
	return Turn{
		Kind:      TurnSteering,
		Timestamp: time.Now(),
		Steering:  &SteeringTurn{Content: content},
	}
}

// TextContent returns the text content of a turn regardless of its kind.
func (t Turn) TextContent() string {
	switch t.Kind {
	case TurnSystem:
		if t.System != nil {
			return t.System.Content
		}
	case TurnUser:
		if t.User != nil {
			return t.User.Content
		}
	case TurnAssistant:
		if t.Assistant != nil {
			return t.Assistant.Content
		}
	case TurnObservation:
		if t.Observation != nil {
			return t.Observation.Content
		}
	case TurnSteering:
		if t.Steering != nil {
			return t.Steering.Content
		}
	}
	return ""
}

// ConvertHistoryToMessages converts the turn-based history into LLM messages.
func ConvertHistoryToMessages(history []Turn) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for _, turn := range history {
		switch turn.Kind {
		case TurnSystem:
			if turn.System != nil {
				messages = append(messages, unifiedllm.SystemMessage(turn.System.Content))
			}
		case TurnUser:
			if turn.User != nil {
				messages = append(messages, unifiedllm.UserMessage(turn.User.Content))
			}
		case TurnAssistant:
			if turn.Assistant != nil {
				msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
				if turn.Assistant.Content != "" {
					msg.Content = append(msg.Content, unifiedllm.TextPart(turn.Assistant.Content))
				}
				for _, tc := range turn.Assistant.ToolCalls {
					msg.Content = append(msg.Content,
						unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
				}
				messages = append(messages, msg)
			}
		case TurnToolResults:
			if turn.ToolResults != nil {
				for _, result := range turn.ToolResults.Results {
					messages = append(messages,
						unifiedllm.ToolResultMessage(result.ToolCallID, result.Content, result.IsError))
				}
			}
		case TurnObservation:
			// Observations and steering are sent as user messages so the
			// model reads them as fresh input.
			if turn.Observation != nil {
				messages = append(messages, unifiedllm.UserMessage(turn.Observation.Content))
			}
		case TurnSteering:
			if turn.Steering != nil {
				messages = append(messages, unifiedllm.UserMessage(turn.Steering.Content))
			}
		}
	}
	return messages
}

// lastAssistantText returns the most recent non-empty assistant text.
func lastAssistantText(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == TurnAssistant && history[i].Assistant != nil && history[i].Assistant.Content != "" {
			return history[i].Assistant.Content
		}
	}
	return ""
}

func cloneHistory(history []Turn) []Turn {
	h := make([]Turn, len(history))
	copy(h, history)
	return h
}
