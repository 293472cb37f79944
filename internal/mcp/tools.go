// Package mcp exposes the ask pipeline as Model Context Protocol tools.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/result"
	"github.com/leapstack-labs/leapask/internal/state"
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName identifies this server to MCP clients.
const ServerName = "leapask"

// Tool names.
const (
	ToolAsk          = "ask_question"
	ToolListDatasets = "list_datasets"
	ToolGetSchema    = "get_schema"
	ToolRecentAsks   = "recent_questions"
)

// NewServer creates an MCP server with every tool registered.
func NewServer(p *pipeline.Pipeline, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	RegisterTools(s, p)
	return s
}

// RegisterTools adds the pipeline tools to s.
func RegisterTools(s *server.MCPServer, p *pipeline.Pipeline) {
	askTool := goMCP.NewTool(ToolAsk,
		goMCP.WithDescription("Answer a natural-language question about the store datasets by generating and running an analysis program"),
		goMCP.WithString("question",
			goMCP.Required(),
			goMCP.Description("The question to answer, e.g. \"What are our top 5 best-selling products by revenue?\""),
		),
		goMCP.WithBoolean("charts",
			goMCP.Description("Allow the analysis to produce a chart (default: true)"),
		),
		goMCP.WithBoolean("include_code",
			goMCP.Description("Include the generated program in the reply (default: false)"),
		),
	)

	listTool := goMCP.NewTool(ToolListDatasets,
		goMCP.WithDescription("List the datasets questions can be asked about, with row counts and columns"),
	)

	schemaTool := goMCP.NewTool(ToolGetSchema,
		goMCP.WithDescription("Get column types, row counts and relationships of the datasets"),
		goMCP.WithString("table",
			goMCP.Description("Optional dataset name. If empty, returns every dataset and the relationships"),
		),
	)

	recentTool := goMCP.NewTool(ToolRecentAsks,
		goMCP.WithDescription("List recently asked questions and their outcome"),
		goMCP.WithNumber("limit",
			goMCP.Description("Number of questions to return (default: 20)"),
		),
	)

	s.AddTool(askTool, AskHandler(p))
	s.AddTool(listTool, ListDatasetsHandler(p))
	s.AddTool(schemaTool, SchemaHandler(p))
	s.AddTool(recentTool, RecentHandler(p))
}

// Serve runs s over a line-delimited stdio transport until ctx is cancelled
// or in is closed.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// AskHandler creates a handler for the ask_question tool. Execution failures
// are answers: their text is returned with the error flag set.
func AskHandler(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, request goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil {
			return goMCP.NewToolResultError(fmt.Sprintf("Missing question parameter: %v", err)), nil
		}
		args := arguments(request)
		charts := boolArg(args, "charts", true)
		withCode := boolArg(args, "include_code", false)

		ans, err := p.Ask(ctx, question, pipeline.AskOptions{NoCharts: !charts})
		if err != nil {
			return goMCP.NewToolResultError(fmt.Sprintf("Ask failed: %v", err)), nil
		}

		var buf bytes.Buffer
		if withCode {
			fmt.Fprintf(&buf, "```python\n%s\n```\n\n", ans.Program)
		}
		if err := result.Render(&buf, ans.Payload, result.RenderOptions{Format: result.FormatMarkdown}); err != nil {
			return goMCP.NewToolResultError(fmt.Sprintf("Failed to render answer: %v", err)), nil
		}
		res := goMCP.NewToolResultText(buf.String())
		if ans.Payload.Chart != nil {
			chartJSON, err := json.Marshal(ans.Payload.Chart)
			if err == nil {
				res.Content = append(res.Content, goMCP.NewTextContent(string(chartJSON)))
			}
		}
		res.IsError = ans.Payload.Kind == result.KindError
		return res, nil
	}
}

// ListDatasetsHandler creates a handler for the list_datasets tool.
func ListDatasetsHandler(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(_ context.Context, _ goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
		return jsonResult(p.Registry().Summaries())
	}
}

// SchemaHandler creates a handler for the get_schema tool.
func SchemaHandler(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(_ context.Context, request goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
		sc := p.Registry().SchemaContext()
		table, _ := arguments(request)["table"].(string)
		if table == "" {
			return jsonResult(sc)
		}
		ts, ok := sc.Table(table)
		if !ok {
			_, err := p.Registry().Lookup(table)
			return goMCP.NewToolResultError(err.Error()), nil
		}
		return jsonResult(ts)
	}
}

// RecentHandler creates a handler for the recent_questions tool.
func RecentHandler(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, request goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
		limit := state.DefaultListLimit
		if n, ok := arguments(request)["limit"].(float64); ok && n >= 1 {
			limit = int(n)
		}
		entries, err := p.History().List(ctx, limit)
		if err != nil {
			return goMCP.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		if entries == nil {
			entries = []*state.Entry{}
		}
		return jsonResult(entries)
	}
}

func jsonResult(v any) (*goMCP.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goMCP.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}
	return goMCP.NewToolResultText(string(jsonData)), nil
}

func arguments(request goMCP.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
