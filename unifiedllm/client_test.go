package unifiedllm

import (
	"context"
	"errors"
	"testing"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	requests []Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Message: Message{
				Role:    RoleAssistant,
				Content: []ContentPart{TextPart(text)},
			},
			FinishReason: FinishReason{Reason: "stop"},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if resp.Provider != "test-provider" {
		t.Errorf("expected provider %q, got %q", "test-provider", resp.Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	// Explicit provider.
	resp, err := client.Complete(context.Background(), Request{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []Message{UserMessage("Hi")},
		Provider: "anthropic",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected Anthropic response, got %q", resp.Text())
	}

	// Default provider.
	resp, err = client.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("expected OpenAI response, got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for no provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientMiddleware(t *testing.T) {
	mock := newMockAdapter("test", "response")
	called := false

	mw := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		called = true
		return next(ctx, req)
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("middleware was not called")
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw1 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 1)
		resp, err := next(ctx, req)
		order = append(order, -1)
		return resp, err
	}
	mw2 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 2)
		resp, err := next(ctx, req)
		order = append(order, -2)
		return resp, err
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw1, mw2),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Onion pattern: first registered runs first for request, reverse for response.
	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientCatalogRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	// The catalog maps the model to a registered provider.
	resp, err := client.Complete(context.Background(), Request{
		Model:    "sonnet",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected Anthropic response, got %q", resp.Text())
	}
	if len(anthropic.requests) != 1 || anthropic.requests[0].Provider != "anthropic" {
		t.Errorf("expected provider to be set on the routed request, got %+v", anthropic.requests)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("openai", newMockAdapter("openai", "x")))
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
		Provider: "missing",
	})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientProviders(t *testing.T) {
	client := NewClient(
		WithProvider("openai", newMockAdapter("openai", "x")),
		WithProvider("anthropic", newMockAdapter("anthropic", "y")),
	)
	names := client.Providers()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("expected sorted provider names, got %v", names)
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	mock := newMockAdapter("dynamic", "dynamic response")
	client.RegisterProvider("dynamic", mock)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "dynamic response" {
		t.Errorf("expected %q, got %q", "dynamic response", resp.Text())
	}
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	mock := newMockAdapter("only", "only response")
	client := NewClient(WithProvider("only", mock))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "only response" {
		t.Errorf("expected %q, got %q", "only response", resp.Text())
	}
}

func TestGenerateWithMock(t *testing.T) {
	mock := newMockAdapter("test", "Generated response")
	client := NewClient(WithProvider("test", mock))

	result, err := Generate(context.Background(), GenerateOptions{
		Model:    "test-model",
		Prompt:   "Say hello",
		Provider: "test",
		Client:   client,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "Generated response" {
		t.Errorf("expected %q, got %q", "Generated response", result.Text)
	}
	if result.FinishReason.Reason != "stop" {
		t.Errorf("expected finish reason %q, got %q", "stop", result.FinishReason.Reason)
	}
	if len(mock.requests) != 1 {
		t.Fatalf("expected exactly 1 request, got %d", len(mock.requests))
	}
	if len(mock.requests[0].ToolDefs) != 0 {
		t.Error("expected no tool definitions on a generate call")
	}
}

func TestGenerateWithMessages(t *testing.T) {
	mock := newMockAdapter("test", "Response to conversation")
	client := NewClient(WithProvider("test", mock))

	result, err := Generate(context.Background(), GenerateOptions{
		Model: "test-model",
		Messages: []Message{
			SystemMessage("Be helpful"),
			UserMessage("What is 2+2?"),
		},
		Provider: "test",
		Client:   client,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "Response to conversation" {
		t.Errorf("expected %q, got %q", "Response to conversation", result.Text)
	}
}

func TestGenerateBothPromptAndMessages(t *testing.T) {
	client := NewClient(WithProvider("test", newMockAdapter("test", "x")))
	_, err := Generate(context.Background(), GenerateOptions{
		Model:    "test-model",
		Prompt:   "hello",
		Messages: []Message{UserMessage("hello")},
		Provider: "test",
		Client:   client,
	})
	if err == nil {
		t.Fatal("expected error when both prompt and messages provided")
	}
}

func TestGenerateWithSystem(t *testing.T) {
	mock := newMockAdapter("test", "ok")
	client := NewClient(WithProvider("test", mock))

	_, err := Generate(context.Background(), GenerateOptions{
		Model:  "test-model",
		System: "Be terse",
		Prompt: "Summarize",
		Client: client,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := mock.requests[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].TextContent() != "Be terse" {
		t.Errorf("expected system message first, got %+v", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[1].TextContent() != "Summarize" {
		t.Errorf("expected user prompt second, got %+v", msgs[1])
	}
}

func TestGenerateRequiresClient(t *testing.T) {
	_, err := Generate(context.Background(), GenerateOptions{Model: "test-model", Prompt: "hi"})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestGenerateDoesNotRetry(t *testing.T) {
	mock := newMockAdapter("test", "")
	mock.err = &ServerError{ProviderError: ProviderError{
		SDKError: SDKError{Message: "boom"}, Provider: "test", StatusCode: 500, Retryable: true,
	}}
	client := NewClient(WithProvider("test", mock))

	_, err := Generate(context.Background(), GenerateOptions{Model: "test-model", Prompt: "hi", Client: client})
	if err == nil {
		t.Fatal("expected error")
	}
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Errorf("expected ServerError, got %T", err)
	}
	if len(mock.requests) != 1 {
		t.Errorf("expected a single attempt, got %d", len(mock.requests))
	}
}
