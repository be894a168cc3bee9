package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
	"github.com/Divas-Gupta30/workflow-builder/internal/retrieval"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type vectorEmbedder struct{ vec []float32 }

func (e vectorEmbedder) Name() string { return "fixed" }

func (e vectorEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

// scriptedBackend answers with a fixed string and advances the clock to
// simulate a remote call.
type scriptedBackend struct {
	name    string
	answer  string
	err     error
	clock   *fakeClock
	prompts []string
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Generate(_ context.Context, req generation.Request) (string, error) {
	b.prompts = append(b.prompts, req.Prompt)
	if b.clock != nil {
		b.clock.Advance(150 * time.Millisecond)
	}
	return b.answer, b.err
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Configured() bool { return true }

func (m *mockSearcher) Search(ctx context.Context, q string, max int) ([]string, error) {
	args := m.Called(ctx, q, max)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

type memoryAudit struct {
	execs   []storage.ExecutionLog
	chats   []storage.ChatLog
	failAll bool
}

func (a *memoryAudit) SaveChatLog(_ context.Context, l *storage.ChatLog) error {
	if a.failAll {
		return errors.New("disk full")
	}
	a.chats = append(a.chats, *l)
	return nil
}

func (a *memoryAudit) ListChatLogs(context.Context, string, int) ([]storage.ChatLog, error) {
	return a.chats, nil
}

func (a *memoryAudit) SaveExecutionLog(_ context.Context, l *storage.ExecutionLog) error {
	if a.failAll {
		return errors.New("disk full")
	}
	a.execs = append(a.execs, *l)
	return nil
}

func (a *memoryAudit) ListExecutionLogs(context.Context, storage.ExecutionFilter, int) ([]storage.ExecutionLog, error) {
	return a.execs, nil
}

func ragGraph(llmParams graph.Params) graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "q", Type: "user_query", Params: graph.Params{}},
			{ID: "kb", Type: "knowledge_base", Params: graph.Params{"collection_name": "docs", "top_k": float64(2)}},
			{ID: "llm", Type: "llm_engine", Params: llmParams},
			{ID: "out", Type: "output", Params: graph.Params{}},
		},
		Edges: []graph.Edge{
			{Source: "q", Target: "kb"},
			{Source: "kb", Target: "llm"},
			{Source: "llm", Target: "out"},
		},
	}
}

type fixture struct {
	clock   *fakeClock
	backend *scriptedBackend
	audit   *memoryAudit
	search  *mockSearcher
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	vs := storage.NewMemoryVectorStore()
	_, err := vs.Upsert(context.Background(), "docs",
		[]string{"X is a letter.", "X comes after W.", "Unrelated."},
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}})
	require.NoError(t, err)

	f := &fixture{
		clock:   clock,
		backend: &scriptedBackend{name: generation.ProviderOpenAI, answer: "X is ...", clock: clock},
		audit:   &memoryAudit{},
		search:  &mockSearcher{},
	}
	f.orch = New(Deps{
		Retriever: retrieval.NewAssembler(vectorEmbedder{vec: []float32{1, 0}}, vs, nil),
		Generator: generation.NewDispatcher(nil, f.backend),
		Searcher:  f.search,
		Audit:     f.audit,
		Clock:     clock,
	})
	return f
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Run(context.Background(), Request{
		Graph:      ragGraph(graph.Params{"provider": "openai"}),
		Message:    "What is X?",
		Identity:   "user-7",
		WorkflowID: "wf-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "X is ...", res.Answer)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, 2, res.ContextUsed)
	assert.Equal(t, []string{"X is a letter.", "X comes after W."}, res.ContextSamples)
	assert.False(t, res.WebUsed)
	assert.Empty(t, res.WebSamples)
	assert.Equal(t, int64(150), res.LatencyMs)

	require.Len(t, f.audit.execs, 1)
	exec := f.audit.execs[0]
	assert.Equal(t, storage.StatusSuccess, exec.Status)
	assert.Equal(t, 2, exec.ContextUsed)
	assert.False(t, exec.WebUsed)
	assert.Equal(t, "openai", exec.Provider)
	assert.Equal(t, int64(150), exec.ExecutionTimeMs)
	assert.Equal(t, "user-7", exec.UserID)
	assert.Equal(t, "wf-1", exec.WorkflowUUID)
	require.Len(t, f.audit.chats, 1)
	assert.Equal(t, "X is ...", f.audit.chats[0].Response)

	require.Len(t, f.backend.prompts, 1)
	assert.Contains(t, f.backend.prompts[0], "Context:\nX is a letter.\n---\nX comes after W.")
	assert.NotContains(t, f.backend.prompts[0], "Web search hints")
	f.search.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunInvalidTopologyIsAudited(t *testing.T) {
	f := newFixture(t)
	g := ragGraph(graph.Params{})
	g.Nodes = g.Nodes[:3]
	g.Edges = g.Edges[:2]

	_, err := f.orch.Run(context.Background(), Request{Graph: g, Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidTopology)

	assert.Empty(t, f.backend.prompts)
	require.Len(t, f.audit.execs, 1)
	assert.Equal(t, storage.StatusError, f.audit.execs[0].Status)
	assert.Contains(t, f.audit.execs[0].ErrorMessage, "missing required node")
	assert.Empty(t, f.audit.chats)
}

func TestRunProviderUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), Request{
		Graph:   ragGraph(graph.Params{"provider": "anthropic"}),
		Message: "What is X?",
	})
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
	assert.Empty(t, f.backend.prompts)
	require.Len(t, f.audit.execs, 1)
	assert.Equal(t, storage.StatusError, f.audit.execs[0].Status)
	assert.Equal(t, 2, f.audit.execs[0].ContextUsed)
}

func TestRunProviderLabelsStayBounded(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	orch := New(Deps{
		Retriever: f.orch.d.Retriever,
		Generator: f.orch.d.Generator,
		Audit:     f.audit,
		Clock:     f.clock,
		Metrics:   metrics.New(reg),
	})

	for i := 0; i < 20; i++ {
		_, err := orch.Run(context.Background(), Request{
			Graph:   ragGraph(graph.Params{"provider": fmt.Sprintf("bogus-%d", i)}),
			Message: "What is X?",
		})
		require.ErrorIs(t, err, apperr.ErrProviderUnavailable)
	}
	for _, e := range f.audit.execs {
		assert.Empty(t, e.Provider)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	series := map[string]int{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			series[mf.GetName()]++
			for _, lp := range m.GetLabel() {
				assert.NotContains(t, lp.GetValue(), "bogus")
			}
		}
	}
	assert.Equal(t, 1, series["workflow_runs_total"])
	assert.Equal(t, 1, series["workflow_external_calls_total"], "only the retrieval call is counted")
}

func TestProviderLabel(t *testing.T) {
	assert.Equal(t, "none", providerLabel(""))
	assert.Equal(t, "openai", providerLabel("openai"))
	assert.Equal(t, "unknown", providerLabel("evil"))
}

func TestRunWithWebSearch(t *testing.T) {
	f := newFixture(t)
	f.search.On("Search", mock.Anything, "What is X?", MaxWebSnippets).
		Return([]string{"web one", "web two", "web three"}, nil)

	res, err := f.orch.Run(context.Background(), Request{
		Graph:   ragGraph(graph.Params{"web_search": true, "prompt": "Be formal."}),
		Message: "What is X?",
	})
	require.NoError(t, err)

	assert.True(t, res.WebUsed)
	assert.Equal(t, []string{"web one", "web two"}, res.WebSamples)
	assert.True(t, f.audit.execs[0].WebUsed)
	require.Len(t, f.backend.prompts, 1)
	p := f.backend.prompts[0]
	assert.True(t, len(p) > 0 && p[:len("Be formal.")] == "Be formal.")
	assert.Contains(t, p, "Web search hints:\nweb one\nweb two\nweb three")
	f.search.AssertExpectations(t)
}

func TestRunWebSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.search.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("quota exceeded"))

	_, err := f.orch.Run(context.Background(), Request{
		Graph:   ragGraph(graph.Params{"web_search": true}),
		Message: "What is X?",
	})
	assert.ErrorIs(t, err, apperr.ErrProviderError)
	assert.Empty(t, f.backend.prompts)
	require.Len(t, f.audit.execs, 1)
	assert.Equal(t, storage.StatusError, f.audit.execs[0].Status)
}

func TestRunBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.answer = ""
	f.backend.err = errors.New("503 upstream")

	_, err := f.orch.Run(context.Background(), Request{Graph: ragGraph(graph.Params{}), Message: "What is X?"})
	assert.ErrorIs(t, err, apperr.ErrProviderError)
	require.Len(t, f.audit.execs, 1)
	exec := f.audit.execs[0]
	assert.Equal(t, storage.StatusError, exec.Status)
	assert.Equal(t, "openai", exec.Provider)
	assert.Equal(t, int64(150), exec.ExecutionTimeMs)
	assert.Empty(t, f.audit.chats)
}

func TestRunAuditFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.audit.failAll = true

	res, err := f.orch.Run(context.Background(), Request{Graph: ragGraph(graph.Params{}), Message: "What is X?"})
	require.NoError(t, err)
	assert.Equal(t, "X is ...", res.Answer)
}

func TestRunCancelledStopsBeforeNextStage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Run(ctx, Request{Graph: ragGraph(graph.Params{}), Message: "What is X?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.backend.prompts)
	require.Len(t, f.audit.execs, 1)
	assert.Equal(t, storage.StatusError, f.audit.execs[0].Status)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "web_searched", StageWebSearched.String())
	assert.Equal(t, "unknown", Stage(99).String())
}
