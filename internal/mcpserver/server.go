// Package mcpserver exposes workflow validation, execution and knowledge
// listing as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

// Runner executes a workflow run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Collections lists knowledge collections.
type Collections interface {
	Collections(ctx context.Context) ([]storage.Collection, error)
}

// Deps holds the collaborators of a Server.
type Deps struct {
	Runner      Runner
	Collections Collections
	Version     string
	Logger      *slog.Logger
}

// Server wraps an MCP server with the workflow tools.
type Server struct {
	runner      Runner
	collections Collections
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// New creates a Server with all tools registered.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	s := &Server{runner: d.Runner, collections: d.Collections, logger: d.Logger}
	srv := server.NewMCPServer(
		"workflow-builder",
		d.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Validate and run retrieval-augmented chat workflows. Use workflow_validate before workflow_run; knowledge_collections lists the collections a knowledge_base node can target."),
	)
	srv.AddTools(s.tools()...)
	s.mcpServer = srv
	return s
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: collectionsTool(), Handler: s.handleCollections},
	}
}

func validateTool() mcp.Tool {
	return mcp.NewTool("workflow_validate",
		mcp.WithDescription("Check a workflow graph: one user_query, one llm_engine, one output, optional knowledge_base, all connected"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow with nodes and edges arrays")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("workflow_run",
		mcp.WithDescription("Run a workflow against one message and return the grounded answer"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow with nodes and edges arrays")),
		mcp.WithString("message", mcp.Required(), mcp.Description("User question")),
		mcp.WithArray("history", mcp.Description("Prior turns as {role, content} objects")),
	)
}

func collectionsTool() mcp.Tool {
	return mcp.NewTool("knowledge_collections",
		mcp.WithDescription("List knowledge collections with their metadata"),
	)
}

func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := workflowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := graph.Validate(g); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(map[string]string{"status": "valid"})
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := workflowArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil || message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	var history []generation.Turn
	if raw, ok := req.GetArguments()["history"]; ok && raw != nil {
		if err := remarshal(raw, &history); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid history: %v", err)), nil
		}
	}
	res, err := s.runner.Run(ctx, pipeline.Request{Graph: g, Message: message, History: history})
	if err != nil {
		s.logger.WarnContext(ctx, "mcp workflow_run failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return marshalResult(res)
}

func (s *Server) handleCollections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cols, err := s.collections.Collections(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing collections failed: %v", err)), nil
	}
	if cols == nil {
		cols = []storage.Collection{}
	}
	return marshalResult(map[string]any{"collections": cols})
}

func workflowArg(req mcp.CallToolRequest) (graph.Graph, error) {
	var g graph.Graph
	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return g, fmt.Errorf("workflow is required")
	}
	if err := remarshal(raw, &g); err != nil {
		return g, fmt.Errorf("invalid workflow: %w", err)
	}
	return g, nil
}

func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
