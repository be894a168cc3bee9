package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/knowledge"
	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
	"github.com/Divas-Gupta30/workflow-builder/internal/processing"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

const maxUploadBytes = 20 << 20

type runRequest struct {
	Workflow     graph.Graph       `json:"workflow"`
	Message      string            `json:"message"`
	History      []generation.Turn `json:"history"`
	WorkflowUUID string            `json:"workflow_uuid"`
}

type saveRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Nodes       []graph.Node `json:"nodes"`
	Edges       []graph.Edge `json:"edges"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var g graph.Graph
	if err := s.schemas.decode(w, r, schemaWorkflow, &g); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if _, err := graph.Validate(g); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := s.schemas.decode(w, r, schemaRun, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := s.runner.Run(r.Context(), pipeline.Request{
		Graph:      req.Workflow,
		Message:    req.Message,
		History:    req.History,
		Identity:   callerID(r.Context()),
		WorkflowID: req.WorkflowUUID,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// workflowRecord validates a save payload and converts it to a record.
func (s *Server) workflowRecord(w http.ResponseWriter, r *http.Request) (*storage.Workflow, error) {
	var req saveRequest
	if err := s.schemas.decode(w, r, schemaSave, &req); err != nil {
		return nil, err
	}
	if _, err := graph.Validate(graph.Graph{Nodes: req.Nodes, Edges: req.Edges}); err != nil {
		return nil, err
	}
	nodes, err := json.Marshal(req.Nodes)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "cannot encode nodes").WithCause(err)
	}
	edges, err := json.Marshal(req.Edges)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "cannot encode edges").WithCause(err)
	}
	return &storage.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Nodes:       nodes,
		Edges:       edges,
		UserID:      callerID(r.Context()),
	}, nil
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflowRecord(w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.store.SaveWorkflow(r.Context(), wf); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.InfoContext(r.Context(), "workflow saved", "uuid", wf.UUID)
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflowRecord(w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	wf.UUID = mux.Vars(r)["uuid"]
	if err := s.store.UpdateWorkflow(r.Context(), wf); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	updated, err := s.store.GetWorkflow(r.Context(), wf.UUID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": nonNil(wfs)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), mux.Vars(r)["uuid"]); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err := intQuery(q.Get("chunk_size"), processing.DefaultChunkSize)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	overlap, err := intQuery(q.Get("chunk_overlap"), processing.DefaultChunkOverlap)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, s.logger, apperr.Newf(apperr.CodeInvalidRequest, "upload exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, r, s.logger, apperr.New(apperr.CodeInvalidRequest, "multipart field \"file\" is required").WithCause(err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, s.logger, apperr.New(apperr.CodeInvalidRequest, "cannot read upload").WithCause(err))
		return
	}

	res, err := s.knowledge.Upload(r.Context(), knowledge.UploadRequest{
		Filename:       header.Filename,
		Data:           data,
		Collection:     q.Get("collection"),
		ChunkSize:      size,
		ChunkOverlap:   overlap,
		EmbeddingModel: q.Get("embedding_model"),
		UserID:         callerID(r.Context()),
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.knowledge.Collections(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": nonNil(cols)})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": nonNil(docs)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(q.Get("limit"), storage.DefaultChatLogLimit)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	logs, err := s.store.ListChatLogs(r.Context(), q.Get("workflow_uuid"), limit)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": nonNil(logs)})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(q.Get("limit"), storage.DefaultExecutionLogLimit)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	logs, err := s.store.ListExecutionLogs(r.Context(), storage.ExecutionFilter{
		UserID:       q.Get("user_id"),
		WorkflowUUID: q.Get("workflow_uuid"),
		Status:       q.Get("status"),
	}, limit)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": nonNil(logs)})
}

func intQuery(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.CodeInvalidRequest, "%q is not an integer", raw)
	}
	return n, nil
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
