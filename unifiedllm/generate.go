package unifiedllm

import (
	"context"
)

// GenerateOptions configures a high-level Generate call.
type GenerateOptions struct {
	Model         string
	Prompt        string    // simple text prompt (mutually exclusive with Messages)
	Messages      []Message // full conversation (mutually exclusive with Prompt)
	System        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	StopSequences []string
	Provider      string
	Client        *Client
}

// Generate is the high-level blocking generation function. It issues exactly
// one Client.Complete call without tools and returns the text. Failures are
// returned as-is; nothing is retried.
func Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "cannot specify both prompt and messages",
		}}
	}
	if opts.Client == nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "generate requires a client",
		}}
	}

	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	resp, err := opts.Client.Complete(ctx, Request{
		Model:         opts.Model,
		Messages:      messages,
		Provider:      opts.Provider,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		MaxTokens:     opts.MaxTokens,
		StopSequences: opts.StopSequences,
	})
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Text:         resp.Text(),
		FinishReason: resp.FinishReason,
		Response:     *resp,
	}, nil
}
