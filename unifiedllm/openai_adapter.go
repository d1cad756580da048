package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter talks to the OpenAI chat completions API (or any compatible
// endpoint) through openai-go. Unlike GollmAdapter it carries native tool
// calls in both directions.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*openAIAdapterConfig)

type openAIAdapterConfig struct {
	model       string
	requestOpts []option.RequestOption
}

// WithOpenAIModel sets the model used when a request names none.
func WithOpenAIModel(model string) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.model = model
	}
}

// WithRequestOptions appends raw openai-go request options.
func WithRequestOptions(opts ...option.RequestOption) OpenAIAdapterOption {
	return func(c *openAIAdapterConfig) {
		c.requestOpts = append(c.requestOpts, opts...)
	}
}

// NewOpenAIAdapter creates an adapter. An empty apiKey or baseURL falls back
// to openai-go's environment defaults (OPENAI_API_KEY, OPENAI_BASE_URL).
func NewOpenAIAdapter(apiKey, baseURL string, opts ...OpenAIAdapterOption) *OpenAIAdapter {
	cfg := &openAIAdapterConfig{model: DefaultModel}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, cfg.requestOpts...)

	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  cfg.model,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// SupportsToolChoice reports whether the adapter supports a tool choice mode.
func (a *OpenAIAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required", "named":
		return true
	default:
		return false
	}
}

// Complete sends a blocking chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "response contained no choices"},
			Provider: a.Name(),
		}
	}

	choice := completion.Choices[0]
	var parts []ContentPart
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		parts = append(parts, ToolCallPart(tc.ID, tc.Function.Name, args))
	}

	return &Response{
		ID:       completion.ID,
		Model:    completion.Model,
		Provider: a.Name(),
		Message: Message{
			Role:    RoleAssistant,
			Content: parts,
		},
		FinishReason: mapFinishReason(choice.FinishReason),
	}, nil
}

func (a *OpenAIAdapter) translateRequest(req Request) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.TextContent()))
		case RoleDeveloper:
			messages = append(messages, openai.DeveloperMessage(msg.TextContent()))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.TextContent()))
		case RoleAssistant:
			messages = append(messages, assistantParam(msg))
		case RoleTool:
			id := msg.ToolCallID
			if id == "" {
				for _, part := range msg.Content {
					if part.Kind == ContentToolResult && part.ToolResult != nil {
						id = part.ToolResult.ToolCallID
						break
					}
				}
			}
			messages = append(messages, openai.ToolMessage(msg.ToolResultText(), id))
		default:
			return openai.ChatCompletionNewParams{}, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: fmt.Sprintf("unsupported message role %q", msg.Role)},
				Provider: a.Name(),
			}}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}

	for _, def := range req.ToolDefs {
		fn := shared.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: shared.FunctionParameters(def.Parameters),
		}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}

	if req.ToolChoice != nil && len(req.ToolDefs) > 0 {
		switch req.ToolChoice.Mode {
		case "named":
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ToolChoice.ToolName},
				},
			}
		case "auto", "none", "required":
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(req.ToolChoice.Mode),
			}
		}
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}

	return params, nil
}

func assistantParam(msg Message) openai.ChatCompletionMessageParamUnion {
	calls := msg.ToolCalls()
	if len(calls) == 0 {
		return openai.AssistantMessage(msg.TextContent())
	}

	p := &openai.ChatCompletionAssistantMessageParam{}
	if text := msg.TextContent(); text != "" {
		p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	for _, tc := range calls {
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: p}
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "length", "tool_calls", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// translateError converts an openai-go error into the unified error hierarchy.
func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		mapped := ErrorFromStatusCode(apiErr.StatusCode, msg, a.Name(), apiErr.Code, nil, nil)
		if apiErr.Code == "context_length_exceeded" {
			mapped = &ContextLengthError{ProviderError: ProviderError{
				SDKError:   SDKError{Message: msg},
				Provider:   a.Name(),
				StatusCode: apiErr.StatusCode,
				ErrorCode:  apiErr.Code,
			}}
		}
		attachCause(mapped, err)
		return mapped
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestTimeoutError{SDKError: SDKError{Message: "request deadline exceeded", Cause: err}}
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	default:
		return &NetworkError{SDKError: SDKError{Message: "openai request failed", Cause: err}}
	}
}

// attachCause records the original error on a mapped SDK error.
func attachCause(mapped error, cause error) {
	switch e := mapped.(type) {
	case *InvalidRequestError:
		e.Cause = cause
	case *AuthenticationError:
		e.Cause = cause
	case *QuotaExceededError:
		e.Cause = cause
	case *AccessDeniedError:
		e.Cause = cause
	case *NotFoundError:
		e.Cause = cause
	case *RequestTimeoutError:
		e.Cause = cause
	case *ContextLengthError:
		e.Cause = cause
	case *RateLimitError:
		e.Cause = cause
	case *ServerError:
		e.Cause = cause
	case *ProviderError:
		e.Cause = cause
	}
}
