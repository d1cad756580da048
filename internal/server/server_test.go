package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/rlm/internal/config"
	"github.com/martinemde/rlm/rlm"
	"github.com/martinemde/rlm/unifiedllm"
	"github.com/martinemde/rlm/unifiedllm/llmtest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))
}

func newTestServer(t *testing.T, steps ...llmtest.Step) (*Server, *llmtest.ScriptedAdapter) {
	t.Helper()
	adapter := llmtest.NewScriptedAdapter(steps...)
	registry := rlm.NewRegistry(adapter.Client(), rlm.EngineConfig{MaxIterations: 5})
	store := rlm.NewSessionStore(time.Hour, 10)
	t.Cleanup(store.CloseAll)
	return New(registry, store, config.Default().Server, nil), adapter
}

func do(t *testing.T, s *Server, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var weather = ChatTool{
	Type: "function",
	Function: ChatFunction{
		Name:        "get_weather",
		Description: "Get the weather for a city",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
		},
	},
}

func TestHealthAndRoot(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"rlm-api"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "gpt-4o-mini:gpt-4o", info["default_model"])

	rec = do(t, s, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/models", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ModelList](t, rec)

	assert.Equal(t, "list", list.Object)
	require.NotEmpty(t, list.Data)
	assert.Equal(t, "gpt-4o-mini:gpt-4o", list.Data[0].ID)
	seen := map[string]bool{}
	for _, m := range list.Data {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		assert.Equal(t, "rlm", m.OwnedBy)
	}
}

func TestChatCompletionFinalAnswer(t *testing.T) {
	s, adapter := newTestServer(t, llmtest.Text("FINAL(42)"))

	rec := do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: "system", Content: "The secret number is 42."},
			{Role: "user", Content: "What is the secret number?"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))

	resp := decode[ChatCompletionResponse](t, rec)
	assert.Regexp(t, `^chatcmpl-[0-9a-f]{8}$`, resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "42", *resp.Choices[0].Message.Content)
	assert.Equal(t, Usage{}, resp.Usage)

	req := adapter.Requests()[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.NotContains(t, req.Messages[0].TextContent(), "The secret number is 42.", "the context stays in the REPL")
}

func TestChatCompletionToolRoundTrip(t *testing.T) {
	s, adapter := newTestServer(t,
		llmtest.ToolCalls("", llmtest.Call("call_1", "get_weather", map[string]any{"city": "Paris"})),
		llmtest.Text("FINAL(sunny in Paris)"),
	)

	messages := []ChatMessage{
		{Role: "system", Content: "Travel notes for Paris."},
		{Role: "user", Content: "What's the weather?"},
	}
	rec := do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
		Model: "gpt-4o-mini", Messages: messages, Tools: []ChatTool{weather},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get(SessionHeader)

	paused := decode[ChatCompletionResponse](t, rec)
	choice := paused.Choices[0]
	assert.Equal(t, "tool_calls", choice.FinishReason)
	assert.Nil(t, choice.Message.Content)
	require.Len(t, choice.Message.ToolCalls, 1)
	call := choice.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "function", call.Type)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, call.Function.Arguments)

	messages = append(messages,
		ChatMessage{Role: "assistant", ToolCalls: choice.Message.ToolCalls},
		ChatMessage{Role: "tool", ToolCallID: "call_1", Name: "get_weather", Content: "sunny"},
	)
	rec = do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
		Model: "gpt-4o-mini", Messages: messages, Tools: []ChatTool{weather},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sessionID, rec.Header().Get(SessionHeader), "the paused session is found by tool call id")

	final := decode[ChatCompletionResponse](t, rec)
	assert.Equal(t, "stop", final.Choices[0].FinishReason)
	assert.Equal(t, "sunny in Paris", *final.Choices[0].Message.Content)

	require.Equal(t, 2, adapter.Calls())
	second := adapter.Requests()[1]
	var sawResult bool
	for _, m := range second.Messages {
		if m.Role == unifiedllm.RoleTool && m.ToolCallID == "call_1" {
			sawResult = true
		}
	}
	assert.True(t, sawResult, "the tool result reaches the model")
}

func TestChatCompletionResumeErrors(t *testing.T) {
	s, _ := newTestServer(t,
		llmtest.ToolCalls("", llmtest.Call("call_1", "get_weather", nil)),
	)

	rec := do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "weather?"}},
		Tools:    []ChatTool{weather},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get(SessionHeader)

	unknown := []ChatMessage{
		{Role: "user", Content: "weather?"},
		{Role: "tool", ToolCallID: "call_zzz", Content: "?"},
	}
	rec = do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{Messages: unknown}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{Messages: unknown},
		map[string]string{SessionHeader: sessionID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorBody](t, rec)
	assert.Equal(t, "invalid_request_error", body.Error.Type)
	assert.Contains(t, body.Error.Message, "missing results for call_1")

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+sessionID, nil, nil)
	info := decode[rlm.SessionInfo](t, rec)
	assert.Equal(t, rlm.StatePaused, info.State, "a rejected resume leaves the session paused")
	assert.Equal(t, []string{"call_1"}, info.PendingToolCallIDs)
}

func TestChatCompletionBadRequests(t *testing.T) {
	s, adapter := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"stream", ChatCompletionRequest{Stream: true, Messages: []ChatMessage{{Role: "user", Content: "hi"}}}},
		{"no messages", ChatCompletionRequest{Model: "gpt-4o"}},
		{"not json", "{"},
		{"bad tool", ChatCompletionRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
			Tools:    []ChatTool{{Type: "function"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/chat/completions", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, adapter.Calls())
}

func TestChatCompletionUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"retryable", &unifiedllm.ServerError{ProviderError: unifiedllm.ProviderError{
			SDKError: unifiedllm.SDKError{Message: "overloaded"}, Provider: "openai", StatusCode: 500,
		}}, http.StatusServiceUnavailable},
		{"permanent", &unifiedllm.AuthenticationError{ProviderError: unifiedllm.ProviderError{
			SDKError: unifiedllm.SDKError{Message: "bad key"}, Provider: "openai", StatusCode: 401,
		}}, http.StatusBadGateway},
		{"configuration", &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "no provider"}},
			http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, llmtest.Fail(tt.err))
			rec := do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
				Messages: []ChatMessage{{Role: "user", Content: "hi"}},
			}, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(SessionHeader))
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t, llmtest.Text("FINAL(done)"))

	rec := do(t, s, http.MethodPost, "/v1/chat/completions", ChatCompletionRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "noted"},
			{Role: "user", Content: "summarize"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := rec.Header().Get(SessionHeader)

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[rlm.SessionInfo](t, rec)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, rlm.StateDone, info.State)
	assert.True(t, info.HasContext)
	assert.Equal(t, "summarize", info.Query)
	assert.Equal(t, 5, info.MaxIterations)

	rec = do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
