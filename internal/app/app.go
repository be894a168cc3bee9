// Package app wires configuration into the running components shared by the
// server and the agent CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Divas-Gupta30/workflow-builder/internal/admission"
	"github.com/Divas-Gupta30/workflow-builder/internal/config"
	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/identity"
	"github.com/Divas-Gupta30/workflow-builder/internal/knowledge"
	"github.com/Divas-Gupta30/workflow-builder/internal/metrics"
	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
	"github.com/Divas-Gupta30/workflow-builder/internal/processing"
	"github.com/Divas-Gupta30/workflow-builder/internal/retrieval"
	"github.com/Divas-Gupta30/workflow-builder/internal/search"
	"github.com/Divas-Gupta30/workflow-builder/internal/storage"
)

const searchCacheTTL = 10 * time.Minute

// App holds the constructed components.
type App struct {
	Store        storage.Store
	Vectors      storage.VectorStore
	Embedder     processing.Embedder
	Dispatcher   *generation.Dispatcher
	Searcher     search.Searcher
	Orchestrator *pipeline.Orchestrator
	Knowledge    *knowledge.Service
	Admission    *admission.Controller
	Identity     identity.Resolver

	mu      sync.Mutex
	closers []func()
}

// Build opens the stores and constructs every component from cfg. m may be nil.
func Build(ctx context.Context, cfg config.Settings, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.onClose(func() { store.Close() })

	a.Vectors = a.vectorStore(cfg, logger)
	a.Embedder = processing.Select(processing.EmbedderConfig{
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OllamaURL:    cfg.OllamaEmbedURL,
		OllamaModel:  cfg.OllamaEmbedModel,
	})

	configured := backends(cfg)
	a.Dispatcher = generation.NewDispatcher(logger, configured...)
	if len(configured) == 0 {
		logger.Warn("no generation provider configured; runs will fail until a key is set")
	}

	a.Searcher = a.searcher(ctx, cfg, logger, m)

	clock := admission.SystemClock{}
	a.Admission = admission.NewController(
		admission.NewThrottle(admission.ThrottleConfig{
			Enabled: cfg.ThrottleEnabled,
			Intervals: map[admission.Class]time.Duration{
				admission.ClassGeneral: cfg.ThrottleDelay,
				admission.ClassHeavy:   cfg.HeavyInterval(),
			},
		}, clock),
		admission.NewLimiter(cfg.RateLimitEnabled, admission.DefaultRouteLimits, clock),
	)
	a.Identity = identity.NewCachedResolver(identity.NewGoogleResolver(), identity.DefaultCacheTTL)

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Retriever: retrieval.NewAssembler(a.Embedder, a.Vectors, logger),
		Generator: a.Dispatcher,
		Searcher:  a.Searcher,
		Audit:     store,
		Clock:     clock,
		Metrics:   m,
		Logger:    logger,
	})
	a.Knowledge = knowledge.NewService(a.Embedder, a.Vectors, store, m, logger)

	logger.Info("components ready",
		"records", storeName(cfg),
		"providers", a.Dispatcher.Configured(),
		"embedder", a.Embedder.Name(),
		"web_search", a.Searcher != nil,
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Settings) (storage.Store, error) {
	var (
		s   storage.Store
		err error
	)
	if cfg.DatabaseURL != "" {
		s, err = storage.NewPostgresStore(cfg.DatabaseURL)
	} else {
		s, err = storage.NewLibSQLStore(cfg.LibSQLPath)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate %s: %w", storeName(cfg), err)
	}
	return s, nil
}

func storeName(cfg config.Settings) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "libsql"
}

// vectorStore returns pgvector behind a lazy handle when Postgres is
// configured, otherwise an in-process store.
func (a *App) vectorStore(cfg config.Settings, logger *slog.Logger) storage.VectorStore {
	if cfg.DatabaseURL == "" {
		logger.Info("vector store: in-memory")
		return storage.NewMemoryVectorStore()
	}
	return storage.NewLazyVectorStore(func(ctx context.Context) (storage.VectorStore, error) {
		pool, err := storage.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		vs := storage.NewPGVectorStore(pool)
		if err := vs.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.onClose(pool.Close)
		logger.Info("vector store: pgvector connected")
		return vs, nil
	})
}

func backends(cfg config.Settings) []generation.Backend {
	var out []generation.Backend
	if cfg.OpenAIAPIKey != "" {
		out = append(out, generation.NewOpenAI(cfg.OpenAIAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		out = append(out, generation.NewGemini(cfg.GeminiAPIKey, ""))
	}
	if cfg.AnthropicAPIKey != "" {
		out = append(out, generation.NewAnthropic(cfg.AnthropicAPIKey))
	}
	if cfg.OllamaURL != "" {
		out = append(out, generation.NewOllama(cfg.OllamaURL))
	}
	return out
}

// searcher returns nil when web search is not configured. A Redis cache is
// added when reachable.
func (a *App) searcher(ctx context.Context, cfg config.Settings, logger *slog.Logger, m *metrics.Metrics) search.Searcher {
	if !cfg.SearchConfigured() {
		return nil
	}
	g, err := search.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchCX)
	if err != nil {
		logger.Warn("web search disabled", "error", err)
		return nil
	}
	if cfg.RedisURL == "" {
		return g
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	cache, err := search.NewRedisCache(pingCtx, cfg.RedisURL)
	if err != nil {
		logger.Warn("search cache disabled", "error", err)
		return g
	}
	a.onClose(func() { cache.Close() })
	return search.NewCachedSearcher(g, cache, searchCacheTTL, m.SearchCache, logger)
}

func (a *App) onClose(f func()) {
	a.mu.Lock()
	a.closers = append(a.closers, f)
	a.mu.Unlock()
}

// Close releases stores and connections in reverse order of creation.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
