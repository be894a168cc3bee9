package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

type stubRunner struct {
	got pipeline.Request
	err error
}

func (r *stubRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	r.got = req
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{Answer: "X is ...", Provider: "openai", ContextUsed: 2}, nil
}

type stubCollections []storage.Collection

func (s stubCollections) Collections(context.Context) ([]storage.Collection, error) { return s, nil }

func buildRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func workflowArgs() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "q", "type": "user_query"},
			map[string]any{"id": "llm", "type": "llm_engine", "params": map[string]any{"provider": "openai"}},
			map[string]any{"id": "out", "type": "output"},
		},
		"edges": []any{
			map[string]any{"source": "q", "target": "llm"},
			map[string]any{"source": "llm", "target": "out"},
		},
	}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func TestToolsRegistered(t *testing.T) {
	s := New(Deps{Runner: &stubRunner{}, Collections: stubCollections{}})
	names := make([]string, 0, 3)
	for _, tool := range s.tools() {
		names = append(names, tool.Tool.Name)
	}
	assert.Equal(t, []string{"workflow_validate", "workflow_run", "knowledge_collections"}, names)
	assert.NotNil(t, s.MCPServer())
}

func TestValidateTool(t *testing.T) {
	s := New(Deps{Runner: &stubRunner{}, Collections: stubCollections{}})

	res, err := s.handleValidate(context.Background(), buildRequest("workflow_validate", map[string]any{"workflow": workflowArgs()}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"status":"valid"}`, text(t, res))

	broken := workflowArgs()
	broken["edges"] = []any{map[string]any{"source": "q", "target": "llm"}}
	res, err = s.handleValidate(context.Background(), buildRequest("workflow_validate", map[string]any{"workflow": broken}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "flow must connect")

	res, err = s.handleValidate(context.Background(), buildRequest("workflow_validate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunTool(t *testing.T) {
	runner := &stubRunner{}
	s := New(Deps{Runner: runner, Collections: stubCollections{}})

	res, err := s.handleRun(context.Background(), buildRequest("workflow_run", map[string]any{
		"workflow": workflowArgs(),
		"message":  "What is X?",
		"history":  []any{map[string]any{"role": "user", "content": "hello"}},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var out pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, "X is ...", out.Answer)
	assert.Equal(t, 2, out.ContextUsed)

	assert.Equal(t, "What is X?", runner.got.Message)
	require.Len(t, runner.got.History, 1)
	assert.Equal(t, "hello", runner.got.History[0].Content)
	assert.Len(t, runner.got.Graph.Nodes, 3)
}

func TestRunToolErrors(t *testing.T) {
	runner := &stubRunner{err: errors.New("openai generation failed")}
	s := New(Deps{Runner: runner, Collections: stubCollections{}})

	res, err := s.handleRun(context.Background(), buildRequest("workflow_run", map[string]any{"workflow": workflowArgs()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "message is required")

	res, err = s.handleRun(context.Background(), buildRequest("workflow_run", map[string]any{
		"workflow": workflowArgs(), "message": "hi",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "openai generation failed")
}

func TestCollectionsTool(t *testing.T) {
	s := New(Deps{Runner: &stubRunner{}, Collections: stubCollections{{Name: "docs", Metadata: map[string]any{"chunks": 3}}}})

	res, err := s.handleCollections(context.Background(), buildRequest("knowledge_collections", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.JSONEq(t, `{"collections":[{"name":"docs","metadata":{"chunks":3}}]}`, text(t, res))
}
