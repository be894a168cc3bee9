// Package api exposes the workflow builder over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Divas-Gupta30/workflow-builder/internal/admission"
	"github.com/Divas-Gupta30/workflow-builder/internal/identity"
	"github.com/Divas-Gupta30/workflow-builder/internal/knowledge"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

// Runner executes a workflow run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Knowledge indexes uploads and lists collections.
type Knowledge interface {
	Upload(ctx context.Context, req knowledge.UploadRequest) (*knowledge.UploadResult, error)
	Collections(ctx context.Context) ([]storage.Collection, error)
}

// Deps are the collaborators of the HTTP server. Identity and Admission may
// be nil.
type Deps struct {
	Store          storage.Store
	Runner         Runner
	Knowledge      Knowledge
	Admission      *admission.Controller
	Identity       identity.Resolver
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	CORSOrigins    []string
	TrustedProxies []string // IPs or CIDRs whose forwarding headers are honoured
}

// Server holds the HTTP handlers.
type Server struct {
	store     storage.Store
	runner    Runner
	knowledge Knowledge
	admission *admission.Controller
	identity  identity.Resolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
	origins   []string
	proxies   proxyTrust
	schemas   payloadSchemas
}

// NewServer compiles the payload schemas and returns a Server.
func NewServer(d Deps) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(d.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Server{
		store:     d.Store,
		runner:    d.Runner,
		knowledge: d.Knowledge,
		admission: d.Admission,
		identity:  d.Identity,
		metrics:   d.Metrics,
		logger:    d.Logger,
		origins:   d.CORSOrigins,
		proxies:   proxies,
		schemas:   schemas,
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument(s.metrics))

	const general, heavy, none = admission.ClassGeneral, admission.ClassHeavy, admission.Class("")

	r.HandleFunc("/health", s.guard("health", none, s.handleHealth)).Methods(http.MethodGet).Name("health")
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet).Name("metrics")

	r.HandleFunc("/workflow/validate", s.guard("validate", general, s.handleValidate)).Methods(http.MethodPost).Name("validate")
	r.HandleFunc("/workflow/save", s.guard("save", general, s.handleSave)).Methods(http.MethodPost).Name("save")
	r.HandleFunc("/workflow/{uuid}/update", s.guard("update", general, s.handleUpdate)).Methods(http.MethodPost).Name("update")
	r.HandleFunc("/workflow/{uuid}", s.guard("get", none, s.handleGet)).Methods(http.MethodGet).Name("get")
	r.HandleFunc("/workflow/{uuid}", s.guard("delete", none, s.handleDelete)).Methods(http.MethodDelete).Name("delete")
	r.HandleFunc("/workflows", s.guard("list", none, s.handleList)).Methods(http.MethodGet).Name("list")

	r.HandleFunc("/knowledge/upload", s.guard("upload", general, s.handleUpload)).Methods(http.MethodPost).Name("upload")
	r.HandleFunc("/knowledge/collections", s.guard("collections", heavy, s.handleCollections)).Methods(http.MethodGet).Name("collections")
	r.HandleFunc("/documents", s.guard("documents", none, s.handleDocuments)).Methods(http.MethodGet).Name("documents")

	r.HandleFunc("/chat/run", s.guard("run", general, s.handleRun)).Methods(http.MethodPost).Name("run")
	r.HandleFunc("/chat/history", s.guard("history", none, s.handleHistory)).Methods(http.MethodGet).Name("history")
	r.HandleFunc("/executions", s.guard("executions", none, s.handleExecutions)).Methods(http.MethodGet).Name("executions")

	var h http.Handler = r
	h = cors(s.origins)(h)
	h = correlation(h)
	h = recoverer(s.logger)(h)
	return h
}
