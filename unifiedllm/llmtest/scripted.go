// Package llmtest provides a scripted provider adapter for exercising code
// that drives a unifiedllm.Client without a network.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/rlm/unifiedllm"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Response *unifiedllm.Response
	Err      error
}

// Responder computes a reply from the request when a static script is not
// enough (for example to answer sub-queries based on their prompt).
type Responder func(req unifiedllm.Request) (*unifiedllm.Response, error)

// ScriptedAdapter replays a fixed queue of replies and records every request
// it receives. When the queue is exhausted the fallback responder is used;
// without one, Complete fails.
type ScriptedAdapter struct {
	name string

	mu       sync.Mutex
	steps    []Step
	fallback Responder
	requests []unifiedllm.Request
}

// NewScriptedAdapter returns an adapter named "openai" with the given replies.
func NewScriptedAdapter(steps ...Step) *ScriptedAdapter {
	return &ScriptedAdapter{name: "openai", steps: steps}
}

// WithName changes the provider name the adapter reports.
func (a *ScriptedAdapter) WithName(name string) *ScriptedAdapter {
	a.name = name
	return a
}

// WithFallback sets the responder used once the script runs out.
func (a *ScriptedAdapter) WithFallback(r Responder) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback = r
	return a
}

// Push appends replies to the script.
func (a *ScriptedAdapter) Push(steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = append(a.steps, steps...)
}

// Name returns the provider identifier.
func (a *ScriptedAdapter) Name() string { return a.name }

// Complete records req and returns the next scripted reply.
func (a *ScriptedAdapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	a.mu.Lock()
	a.requests = append(a.requests, cloneRequest(req))
	var step *Step
	if len(a.steps) > 0 {
		s := a.steps[0]
		a.steps = a.steps[1:]
		step = &s
	}
	fallback := a.fallback
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step != nil {
		if step.Err != nil {
			return nil, step.Err
		}
		return step.Response, nil
	}
	if fallback != nil {
		return fallback(req)
	}
	return nil, fmt.Errorf("llmtest: script exhausted after %d requests", a.Calls())
}

// Requests returns a copy of every request received so far.
func (a *ScriptedAdapter) Requests() []unifiedllm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]unifiedllm.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Calls returns the number of requests received so far.
func (a *ScriptedAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Remaining returns the number of scripted replies not yet consumed.
func (a *ScriptedAdapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steps)
}

// Client wraps the adapter in a unifiedllm.Client with it as the default.
func (a *ScriptedAdapter) Client() *unifiedllm.Client {
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(a.name, a),
		unifiedllm.WithDefaultProvider(a.name),
	)
}

func cloneRequest(req unifiedllm.Request) unifiedllm.Request {
	msgs := make([]unifiedllm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	return req
}

// Text is a scripted plain-text reply.
func Text(text string) Step {
	return Step{Response: TextResponse(text)}
}

// ToolCalls is a scripted reply that requests the given tool calls.
func ToolCalls(text string, calls ...unifiedllm.ToolCall) Step {
	return Step{Response: ToolCallResponse(text, calls...)}
}

// Fail is a scripted error reply.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call builds a ToolCall with JSON-encoded arguments.
func Call(id, name string, args map[string]any) unifiedllm.ToolCall {
	raw, _ := json.Marshal(args)
	if args == nil {
		raw = []byte(`{}`)
	}
	return unifiedllm.ToolCall{ID: id, Name: name, Arguments: raw}
}

// TextResponse builds an assistant response carrying only text.
func TextResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		ID:       "resp_scripted",
		Model:    "scripted",
		Provider: "openai",
		Message: unifiedllm.Message{
			Role:    unifiedllm.RoleAssistant,
			Content: []unifiedllm.ContentPart{unifiedllm.TextPart(text)},
		},
		FinishReason: unifiedllm.FinishReason{Reason: "stop", Raw: "stop"},
	}
}

// ToolCallResponse builds an assistant response carrying tool calls and
// optional text.
func ToolCallResponse(text string, calls ...unifiedllm.ToolCall) *unifiedllm.Response {
	var parts []unifiedllm.ContentPart
	if text != "" {
		parts = append(parts, unifiedllm.TextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{
		ID:       "resp_scripted",
		Model:    "scripted",
		Provider: "openai",
		Message: unifiedllm.Message{
			Role:    unifiedllm.RoleAssistant,
			Content: parts,
		},
		FinishReason: unifiedllm.FinishReason{Reason: "tool_calls", Raw: "tool_calls"},
	}
}
