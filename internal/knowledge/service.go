// Package knowledge loads documents into the vector store: extract, chunk,
// embed, upsert and record document metadata.
package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/ingestion"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
	"github.com/Divas-Gupta30/workflow-builder/internal/processing"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

const (
	DefaultCollection = "default"
	// defaultModelLabel is recorded when no embedding model is requested.
	defaultModelLabel = "default"
	maxReturnedIDs    = 5
)

// UploadRequest describes one document to index.
type UploadRequest struct {
	Filename       string
	Data           []byte
	Collection     string
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
	UserID         string
}

// UploadResult summarizes an indexed document.
type UploadResult struct {
	Collection   string   `json:"collection"`
	Chunks       int      `json:"chunks"`
	IDs          []string `json:"ids"`
	DocumentUUID string   `json:"document_uuid,omitempty"`
}

// IndexReport summarizes a directory walk.
type IndexReport struct {
	Files   int `json:"files"`
	Skipped int `json:"skipped"`
	Chunks  int `json:"chunks"`
}

// Service indexes documents. Documents may be nil, in which case metadata is
// not recorded.
type Service struct {
	embedder  processing.Embedder
	vectors   storage.VectorStore
	documents storage.DocumentStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(embedder processing.Embedder, vectors storage.VectorStore, documents storage.DocumentStore, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{embedder: embedder, vectors: vectors, documents: documents, metrics: m, logger: logger}
}

// Upload indexes one document.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	text, err := ingestion.ExtractBytes(req.Filename, req.Data)
	if err != nil {
		return nil, extractError(req.Filename, err)
	}
	return s.index(ctx, req, int64(len(req.Data)), text)
}

func (s *Service) index(ctx context.Context, req UploadRequest, size int64, text string) (*UploadResult, error) {
	if req.Collection = strings.TrimSpace(req.Collection); req.Collection == "" {
		req.Collection = DefaultCollection
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = processing.DefaultChunkSize
	}
	if req.ChunkOverlap < 0 {
		req.ChunkOverlap = processing.DefaultChunkOverlap
	}
	chunks := processing.Chunk(text, req.ChunkSize, req.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, extractError(req.Filename, ingestion.ErrNoText)
	}

	ids, err := s.store(ctx, req.Collection, chunks, req.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{Collection: req.Collection, Chunks: len(chunks), IDs: ids}
	if len(res.IDs) > maxReturnedIDs {
		res.IDs = res.IDs[:maxReturnedIDs]
	}
	if s.documents != nil {
		model := req.EmbeddingModel
		if model == "" {
			model = defaultModelLabel
		}
		doc := &storage.Document{
			Filename:       req.Filename,
			FileSize:       size,
			CollectionName: req.Collection,
			ChunkCount:     len(chunks),
			EmbeddingModel: model,
			UserID:         req.UserID,
		}
		if err := s.documents.SaveDocument(ctx, doc); err != nil {
			return nil, err
		}
		res.DocumentUUID = doc.UUID
	}
	s.logger.InfoContext(ctx, "document indexed", "filename", req.Filename, "collection", req.Collection, "chunks", len(chunks))
	return res, nil
}

func extractError(filename string, err error) error {
	return apperr.New(apperr.CodeInvalidRequest, "could not extract text from the uploaded file").
		WithCause(err).WithDetails(map[string]any{"filename": filename})
}

func (s *Service) store(ctx context.Context, collection string, chunks []string, model string) ([]string, error) {
	vecs, err := s.embedder.Embed(ctx, chunks, model)
	s.metrics.ExternalCall("embedding_"+s.embedder.Name(), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "embedding chunks failed", "embedder", s.embedder.Name(), "error", err)
		return nil, apperr.New(apperr.CodeRetrievalError, "embedding failed").WithCause(err)
	}
	ids, err := s.vectors.Upsert(ctx, collection, chunks, vecs)
	s.metrics.ExternalCall("vector_store", err)
	if err != nil {
		s.logger.ErrorContext(ctx, "vector upsert failed", "collection", collection, "error", err)
		return nil, apperr.New(apperr.CodeRetrievalError, "vector store upsert failed").WithCause(err).
			WithDetails(map[string]any{"collection": collection})
	}
	return ids, nil
}

// Collections lists the vector store collections.
func (s *Service) Collections(ctx context.Context) ([]storage.Collection, error) {
	cols, err := s.vectors.ListCollections(ctx)
	s.metrics.ExternalCall("vector_store", err)
	if err != nil {
		return nil, apperr.New(apperr.CodeRetrievalError, "listing collections failed").WithCause(err)
	}
	return cols, nil
}

// IndexDir indexes every supported file under root. Files that fail are
// logged and skipped.
func (s *Service) IndexDir(ctx context.Context, root, collection string) (*IndexReport, error) {
	files, err := ingestion.LoadLocalFiles(root)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "cannot read directory").WithCause(err).
			WithDetails(map[string]any{"path": root})
	}
	rep := &IndexReport{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		s.logger.InfoContext(ctx, "indexing", "path", f)
		res, err := s.indexFile(ctx, f, collection)
		if err != nil {
			s.logger.WarnContext(ctx, "skip file", "path", f, "error", err)
			rep.Skipped++
			continue
		}
		rep.Files++
		rep.Chunks += res.Chunks
	}
	return rep, nil
}

func (s *Service) indexFile(ctx context.Context, path, collection string) (*UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	text, err := ingestion.ExtractText(path)
	if err != nil {
		return nil, extractError(filepath.Base(path), err)
	}
	return s.index(ctx, UploadRequest{Filename: filepath.Base(path), Collection: collection}, info.Size(), text)
}
