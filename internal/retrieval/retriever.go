// Package retrieval assembles grounding context for a question from the
// knowledge base node of a workflow.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/processing"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

const (
	DefaultCollection = "default"
	DefaultTopK       = 4
	MaxTopK           = 20
)

// Query is the retrieval configuration read from a knowledge base node.
type Query struct {
	Collection     string
	TopK           int
	EmbeddingModel string
}

// QueryFromParams reads collection_name, top_k and embedding_model, applying
// defaults and clamping top_k to MaxTopK.
func QueryFromParams(p graph.Params) Query {
	k := p.Int("top_k", DefaultTopK)
	if k < 1 {
		k = DefaultTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	return Query{
		Collection:     p.String("collection_name", DefaultCollection),
		TopK:           k,
		EmbeddingModel: p.String("embedding_model", ""),
	}
}

// Assembler embeds the question and looks up the nearest chunks.
type Assembler struct {
	embedder processing.Embedder
	store    storage.VectorStore
	logger   *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(embedder processing.Embedder, store storage.VectorStore, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Assembler{embedder: embedder, store: store, logger: logger}
}

// Assemble returns context snippets for message in store order. A nil
// knowledge node yields no snippets and no backend calls.
func (a *Assembler) Assemble(ctx context.Context, message string, kb *graph.Node) ([]string, error) {
	if kb == nil {
		return []string{}, nil
	}
	q := QueryFromParams(kb.Params)

	vecs, err := a.embedder.Embed(ctx, []string{message}, q.EmbeddingModel)
	if err != nil {
		a.logger.ErrorContext(ctx, "embed query failed", "embedder", a.embedder.Name(), "error", err)
		return nil, retrievalError("embedding the question failed", q, err)
	}
	if len(vecs) != 1 {
		return nil, retrievalError("embedder returned no vector", q, nil)
	}

	docs, err := a.store.Query(ctx, q.Collection, vecs[0], q.TopK)
	if err != nil {
		a.logger.ErrorContext(ctx, "vector query failed", "collection", q.Collection, "error", err)
		return nil, retrievalError("vector store query failed", q, err)
	}
	if len(docs) > q.TopK {
		docs = docs[:q.TopK]
	}
	a.logger.DebugContext(ctx, "context retrieved", "collection", q.Collection, "top_k", q.TopK, "found", len(docs))
	return docs, nil
}

func retrievalError(msg string, q Query, cause error) error {
	e := apperr.New(apperr.CodeRetrievalError, msg).WithDetails(map[string]any{"collection": q.Collection})
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
