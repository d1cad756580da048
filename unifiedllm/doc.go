// Package unifiedllm provides a provider-agnostic LLM client. Requests and
// responses use one set of types regardless of backend; adapters translate to
// the native OpenAI chat API (github.com/openai/openai-go) or to the gollm
// library (github.com/teilomillet/gollm) for the other providers it supports.
//
// # Architecture
//
// The package follows a three-layer architecture:
//
//   - Layer 1 (Provider Interface): ProviderAdapter interface and shared types
//   - Layer 2 (Core Client): Client with provider routing and middleware
//   - Layer 3 (High-Level API): the single-shot Generate function
//
// Nothing in this package retries. Errors are classified into the SDKError
// hierarchy and IsRetryable tells the caller whether a repeat could succeed.
//
// # Quick Start
//
//	adapter := unifiedllm.NewOpenAIAdapter(os.Getenv("OPENAI_API_KEY"), "")
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "gpt-4o-mini",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// Single-shot generation with a system prompt:
//
//	result, err := unifiedllm.Generate(ctx, unifiedllm.GenerateOptions{
//	    Client: client,
//	    Model:  "gpt-4o",
//	    System: "Answer tersely.",
//	    Prompt: "Summarize this log excerpt: ...",
//	})
//
// # Tool Calling
//
// Tool schemas travel in Request.ToolDefs. Tool calls come back as
// ContentToolCall parts (see Response.ToolCallsFromResponse) and their
// results are sent back as ToolResultMessage values.
//
// # Model Catalog
//
//	info := unifiedllm.GetModelInfo("gpt-4o-mini")
//	models := unifiedllm.ListModels("openai")
//	sub := unifiedllm.DefaultRecursiveModel("gpt-4o-mini") // "gpt-4o"
package unifiedllm
