// Package mcpserver exposes rlm queries as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/rlm"
)

// DefaultMaxIterations is the budget used when a tool call names none.
const DefaultMaxIterations = 10

// QueryTextInput is the query_text argument object.
type QueryTextInput struct {
	Text          string `json:"text" jsonschema:"the text or document to query, which may be very large"`
	Query         string `json:"query" jsonschema:"the question to ask about the text"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"maximum RLM iterations (default 10)"`
}

// QueryFileInput is the query_file argument object.
type QueryFileInput struct {
	FilePath      string `json:"file_path" jsonschema:"path to the file to query"`
	Query         string `json:"query" jsonschema:"the question to ask about the file"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"maximum RLM iterations (default 10)"`
}

// Handler runs tool calls against the registry's default engine.
type Handler struct {
	registry *rlm.Registry
	logger   *zap.Logger
}

// New builds an MCP server with the query_text and query_file tools.
func New(registry *rlm.Registry, version string, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{registry: registry, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{Name: "rlm-server", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name: "query_text",
		Description: "Query a large text using RLM. Can handle arbitrarily large contexts that exceed normal LLM limits. " +
			"The text can be a document, codebase, or any long content.",
	}, h.QueryText)
	mcp.AddTool(server, &mcp.Tool{
		Name: "query_file",
		Description: "Query a file using RLM. Loads the file content and queries it. " +
			"Supports any text file (code, documents, logs, etc). Can handle files of any size.",
	}, h.QueryFile)
	return server
}

// Run serves MCP over stdin and stdout until ctx is done or the client
// disconnects.
func Run(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// QueryText answers a question about inline text.
func (h *Handler) QueryText(ctx context.Context, _ *mcp.CallToolRequest, in QueryTextInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Text) == "" || strings.TrimSpace(in.Query) == "" {
		return nil, nil, errors.New("both 'text' and 'query' are required")
	}
	return h.query(ctx, "query_text", in.Text, in.Query, in.MaxIterations)
}

// QueryFile answers a question about a file on disk.
func (h *Handler) QueryFile(ctx context.Context, _ *mcp.CallToolRequest, in QueryFileInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.FilePath) == "" || strings.TrimSpace(in.Query) == "" {
		return nil, nil, errors.New("both 'file_path' and 'query' are required")
	}
	doc, err := contextnorm.LoadFile(in.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return h.query(ctx, "query_file", doc, in.Query, in.MaxIterations)
}

func (h *Handler) query(ctx context.Context, tool string, input any, question string, maxIterations int) (*mcp.CallToolResult, any, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	engine := h.registry.Default()

	h.logger.Debug("mcp tool call",
		zap.String("tool", tool),
		zap.Int("max_iterations", maxIterations))

	result, err := engine.Query(ctx, input, question, rlm.WithMaxIterations(maxIterations))
	if err != nil {
		h.logger.Warn("mcp tool call failed", zap.String("tool", tool), zap.Error(err))
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: result.Answer}},
	}, nil, nil
}
