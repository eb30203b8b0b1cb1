// Package mcpadapter exposes the query service as an MCP tool over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	httpadapter "github.com/kirillkom/docqa/internal/adapters/http"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

const ToolName = "ask_documents"

type Server struct {
	queryUC ports.QueryService
	logger  *slog.Logger
	mcp     *server.MCPServer
}

func New(name, version string, queryUC ports.QueryService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queryUC: queryUC,
		logger:  logger,
		mcp:     server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
	}

	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Answer a question from the indexed local documents. Returns the answer, the sub-questions asked and token usage as JSON."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question about the documents"),
		),
	)
	s.mcp.AddTool(tool, s.handleAsk)
	return s
}

// Serve speaks MCP over the given streams until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, stdin, stdout)
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.queryUC.Answer(usage.WithCounter(ctx, usage.NewCounter()), question)
	if err != nil {
		s.logger.Error("mcp_ask_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(httpadapter.NewAskResponse(resp))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(payload)), nil
}
