package rlm

import (
	"github.com/martinemde/rlm/unifiedllm"
)

// ToolCallBatch is the set of tool calls one model turn asked the caller to
// run, and the iteration that produced it.
type ToolCallBatch struct {
	Calls     []unifiedllm.ToolCall `json:"calls"`
	Iteration int                   `json:"iteration"`
}

// IDs returns the call ids in order.
func (b *ToolCallBatch) IDs() []string {
	if b == nil {
		return nil
	}
	ids := make([]string, len(b.Calls))
	for i, c := range b.Calls {
		ids[i] = c.ID
	}
	return ids
}

// PausedState is everything needed to resume a session after a tool call.
// EnvHandle names the live environment; the environment itself stays in
// the session.
type PausedState struct {
	SessionID    string                      `json:"session_id"`
	Conversation []Turn                      `json:"conversation"`
	Pending      *ToolCallBatch              `json:"pending,omitempty"`
	Tools        []unifiedllm.ToolDefinition `json:"tools,omitempty"`
	Query        string                      `json:"query"`
	Iteration    int                         `json:"iteration"`
	EnvHandle    string                      `json:"env_handle,omitempty"`
}

// ApplyToolResults matches results against the pending batch and returns
// the conversation extended with one tool-results turn. Results are
// reordered to follow the batch. paused is not modified.
func ApplyToolResults(paused PausedState, results []unifiedllm.ToolResult) ([]Turn, error) {
	if paused.Pending == nil || len(paused.Pending.Calls) == 0 {
		perr := &ProtocolError{Reason: "no tool calls are pending"}
		for _, r := range results {
			perr.Unexpected = append(perr.Unexpected, r.ToolCallID)
		}
		return nil, perr
	}

	byID := make(map[string]unifiedllm.ToolResult, len(results))
	var unexpected []string
	pending := make(map[string]unifiedllm.ToolCall, len(paused.Pending.Calls))
	for _, c := range paused.Pending.Calls {
		pending[c.ID] = c
	}
	for _, r := range results {
		if _, ok := pending[r.ToolCallID]; !ok {
			unexpected = append(unexpected, r.ToolCallID)
			continue
		}
		if _, dup := byID[r.ToolCallID]; dup {
			unexpected = append(unexpected, r.ToolCallID)
			continue
		}
		byID[r.ToolCallID] = r
	}

	var missing []string
	ordered := make([]unifiedllm.ToolResult, 0, len(paused.Pending.Calls))
	for _, c := range paused.Pending.Calls {
		r, ok := byID[c.ID]
		if !ok {
			missing = append(missing, c.ID)
			continue
		}
		if r.Name == "" {
			r.Name = c.Name
		}
		ordered = append(ordered, r)
	}

	if len(missing) > 0 || len(unexpected) > 0 {
		return nil, &ProtocolError{
			Reason:     "tool results do not match the pending tool calls",
			Missing:    missing,
			Unexpected: unexpected,
		}
	}

	turns := make([]Turn, 0, len(paused.Conversation)+1)
	turns = append(turns, paused.Conversation...)
	turns = append(turns, NewToolResultsTurn(ordered))
	return turns, nil
}
