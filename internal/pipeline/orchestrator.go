// Package pipeline runs a validated workflow graph against one message and
// records the outcome.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/Divas-Gupta30/workflow-builder/internal/admission"
	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
	"github.com/Divas-Gupta30/workflow-builder/internal/prompt"
	"github.com/Divas-Gupta30/workflow-builder/internal/search"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

// MaxWebSnippets caps web search hints per run.
const MaxWebSnippets = 3

const sampleSize = 2

// ContextAssembler produces grounding snippets for a message.
type ContextAssembler interface {
	Assemble(ctx context.Context, message string, kb *graph.Node) ([]string, error)
}

// Generator answers a composed prompt.
type Generator interface {
	Generate(ctx context.Context, provider, prompt, model string, history []generation.Turn) (string, string, error)
}

// Request is one run.
type Request struct {
	Graph      graph.Graph
	Message    string
	History    []generation.Turn
	Identity   string
	WorkflowID string
}

// Result is the answer of a successful run.
type Result struct {
	Answer         string   `json:"answer"`
	Provider       string   `json:"provider"`
	ContextUsed    int      `json:"context_used"`
	ContextSamples []string `json:"context_samples"`
	WebUsed        bool     `json:"web_used"`
	WebSamples     []string `json:"web_samples"`
	LatencyMs      int64    `json:"latency_ms"`
}

// Deps are the collaborators of an Orchestrator. Searcher and Audit may be nil.
type Deps struct {
	Retriever ContextAssembler
	Generator Generator
	Searcher  search.Searcher
	Audit     storage.AuditStore
	Clock     admission.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Orchestrator sequences validation, retrieval, web search, composition and
// generation, and writes one execution log per run.
type Orchestrator struct {
	d Deps
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = admission.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Orchestrator{d: d}
}

type step struct {
	done Stage
	run  func(context.Context, *state) error
}

// Run executes req. The returned error is the first stage failure; the audit
// record is written either way.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.WorkflowID != "" {
		ctx = logging.WithWorkflowID(ctx, req.WorkflowID)
	}
	if req.Identity != "" {
		ctx = logging.WithIdentity(ctx, req.Identity)
	}
	start := o.d.Clock.Now()
	s := &state{req: req, stage: StageAdmitted}

	steps := []step{
		{StageValidated, o.validate},
		{StageRetrieved, o.retrieve},
		{StageWebSearched, o.webSearch},
		{StageComposed, o.compose},
		{StageGenerated, o.generate},
	}
	var runErr error
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			runErr = apperr.New(apperr.CodeInternal, "request cancelled").WithCause(err).
				WithDetails(map[string]any{"stage": s.stage.String()})
			break
		}
		if err := st.run(ctx, s); err != nil {
			runErr = err
			break
		}
		s.stage = st.done
		o.d.Logger.DebugContext(ctx, "stage complete", "stage", s.stage.String())
	}

	elapsed := o.d.Clock.Now().Sub(start)
	if runErr != nil {
		o.d.Logger.DebugContext(ctx, "run failed", "stage", s.stage.String(), "error", runErr)
		s.stage = StageFailed
	}
	// the outcome is written even when the caller has gone away
	o.record(context.WithoutCancel(ctx), s, elapsed.Milliseconds(), runErr)

	status := storage.StatusSuccess
	if runErr != nil {
		status = storage.StatusError
	}
	o.d.Metrics.ObserveRun(status, providerLabel(s.provider), elapsed)
	if runErr != nil {
		return nil, runErr
	}

	s.stage = StageDone
	return &Result{
		Answer:         s.answer,
		Provider:       s.provider,
		ContextUsed:    len(s.context),
		ContextSamples: head(s.context, sampleSize),
		WebUsed:        len(s.web) > 0,
		WebSamples:     head(s.web, sampleSize),
		LatencyMs:      elapsed.Milliseconds(),
	}, nil
}

func (o *Orchestrator) validate(_ context.Context, s *state) error {
	roles, err := graph.Validate(s.req.Graph)
	if err != nil {
		return err
	}
	s.roles = roles
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, s *state) error {
	kb := s.knowledgeNode()
	if kb == nil {
		return nil
	}
	docs, err := o.d.Retriever.Assemble(ctx, s.req.Message, kb)
	o.d.Metrics.ExternalCall("retrieval", err)
	if err != nil {
		return err
	}
	s.context = docs
	return nil
}

func (o *Orchestrator) webSearch(ctx context.Context, s *state) error {
	if !s.generationNode().Params.Bool("web_search") {
		return nil
	}
	if o.d.Searcher == nil || !o.d.Searcher.Configured() {
		o.d.Logger.DebugContext(ctx, "web search requested but not configured")
		return nil
	}
	snippets, err := o.d.Searcher.Search(ctx, s.req.Message, MaxWebSnippets)
	o.d.Metrics.ExternalCall("web_search", err)
	if err != nil {
		o.d.Logger.ErrorContext(ctx, "web search failed", "error", err)
		return apperr.New(apperr.CodeProviderError, "web search failed").WithCause(err).
			WithDetails(map[string]any{"provider": "web_search"})
	}
	s.web = head(snippets, MaxWebSnippets)
	return nil
}

func (o *Orchestrator) compose(_ context.Context, s *state) error {
	n := s.generationNode()
	s.prompt = prompt.Compose(s.req.Message, s.context, s.web, n.Params.String("prompt", ""))
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, s *state) error {
	n := s.generationNode()
	s.model = n.Params.String("model", "")
	answer, used, err := o.d.Generator.Generate(ctx, n.Params.String("provider", ""), s.prompt, s.model, s.history())
	s.provider = used
	if used != "" {
		o.d.Metrics.ExternalCall(providerLabel(used), err)
	}
	if err != nil {
		return err
	}
	s.answer = answer
	return nil
}

// record writes the execution log and, on success, the chat log. Failures
// here are logged and counted only.
func (o *Orchestrator) record(ctx context.Context, s *state, latencyMs int64, runErr error) {
	if o.d.Audit == nil {
		return
	}
	exec := &storage.ExecutionLog{
		WorkflowUUID:    s.req.WorkflowID,
		UserID:          s.req.Identity,
		Status:          storage.StatusSuccess,
		Message:         s.req.Message,
		Response:        s.answer,
		Provider:        s.provider,
		ExecutionTimeMs: latencyMs,
		ContextUsed:     len(s.context),
		WebUsed:         len(s.web) > 0,
	}
	if runErr != nil {
		exec.Status = storage.StatusError
		exec.ErrorMessage = runErr.Error()
	}
	if err := o.d.Audit.SaveExecutionLog(ctx, exec); err != nil {
		o.auditFailed(ctx, "execution log", err)
	}
	if runErr != nil {
		return
	}
	chat := &storage.ChatLog{
		WorkflowUUID: s.req.WorkflowID,
		Message:      s.req.Message,
		Response:     s.answer,
		Provider:     s.provider,
		ContextUsed:  len(s.context),
		WebUsed:      len(s.web) > 0,
		UserID:       s.req.Identity,
	}
	if err := o.d.Audit.SaveChatLog(ctx, chat); err != nil {
		o.auditFailed(ctx, "chat log", err)
		return
	}
	s.stage = StageLogged
}

func (o *Orchestrator) auditFailed(ctx context.Context, what string, err error) {
	o.d.Metrics.AuditFailed()
	o.d.Logger.ErrorContext(ctx, "failed to save "+what, "error", err)
}

// providerLabel keeps metric label values to a fixed set.
func providerLabel(p string) string {
	switch {
	case p == "":
		return "none"
	case generation.Known(p):
		return p
	default:
		return "unknown"
	}
}

func head(xs []string, n int) []string {
	if len(xs) > n {
		xs = xs[:n]
	}
	out := make([]string, len(xs))
	copy(out, xs)
	return out
}
