package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorStore keeps embedded chunks grouped into named collections.
type VectorStore interface {
	// Upsert stores texts with their vectors and returns the generated ids.
	Upsert(ctx context.Context, collection string, texts []string, vectors [][]float32) ([]string, error)
	// Query returns up to k texts nearest to vector, closest first.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]string, error)
	ListCollections(ctx context.Context) ([]Collection, error)
}

var errLengthMismatch = errors.New("texts and vectors differ in length")

// PGVectorStore keeps chunks in PostgreSQL using the pgvector extension.
type PGVectorStore struct {
	pool *pgxpool.Pool
}

// NewPGVectorStore wraps an open pool.
func NewPGVectorStore(pool *pgxpool.Pool) *PGVectorStore {
	return &PGVectorStore{pool: pool}
}

var pgvectorSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS collections (
		name       TEXT PRIMARY KEY,
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT PRIMARY KEY,
		collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		embedding  vector NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks (collection)`,
}

// Migrate creates the extension and tables if missing.
func (s *PGVectorStore) Migrate(ctx context.Context) error {
	for _, stmt := range pgvectorSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector schema: %w", err)
		}
	}
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, collection string, texts []string, vectors [][]float32) ([]string, error) {
	if len(texts) != len(vectors) {
		return nil, errLengthMismatch
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, _ := json.Marshal(map[string]any{"created_by": "upload"})
	if _, err := tx.Exec(ctx,
		`INSERT INTO collections (name, metadata) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		collection, meta); err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	ids := make([]string, len(texts))
	for i := range texts {
		ids[i] = uuid.NewString()
		if _, err := tx.Exec(ctx,
			"INSERT INTO chunks (id, collection, content, embedding) VALUES ($1, $2, $3, $4)",
			ids[i], collection, texts[i], pgvector.NewVector(vectors[i])); err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return ids, nil
}

func (s *PGVectorStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT content FROM chunks WHERE collection = $1 ORDER BY embedding <-> $2 LIMIT $3",
		collection, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	results := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		results = append(results, content)
	}
	return results, rows.Err()
}

func (s *PGVectorStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.pool.Query(ctx, "SELECT name, metadata FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	out := []Collection{}
	for rows.Next() {
		var c Collection
		var meta []byte
		if err := rows.Scan(&c.Name, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &c.Metadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type memItem struct {
	id   string
	text string
	vec  []float32
}

type memCollection struct {
	created time.Time
	items   []memItem
}

// MemoryVectorStore keeps chunks in process memory, ranked by L2 distance.
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryVectorStore creates an empty store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryVectorStore) Upsert(_ context.Context, collection string, texts []string, vectors [][]float32) ([]string, error) {
	if len(texts) != len(vectors) {
		return nil, errLengthMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = &memCollection{created: time.Now().UTC()}
		m.collections[collection] = c
	}
	ids := make([]string, len(texts))
	for i := range texts {
		ids[i] = uuid.NewString()
		vec := append([]float32(nil), vectors[i]...)
		c.items = append(c.items, memItem{id: ids[i], text: texts[i], vec: vec})
	}
	return ids, nil
}

func (m *MemoryVectorStore) Query(_ context.Context, collection string, vector []float32, k int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok || k <= 0 {
		return []string{}, nil
	}
	type scored struct {
		text string
		dist float64
	}
	ranked := make([]scored, 0, len(c.items))
	for _, it := range c.items {
		if len(it.vec) != len(vector) {
			return nil, fmt.Errorf("expected %d dimensions, not %d", len(it.vec), len(vector))
		}
		ranked = append(ranked, scored{text: it.text, dist: l2(it.vec, vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.text
	}
	return out, nil
}

func (m *MemoryVectorStore) ListCollections(_ context.Context) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Collection, 0, len(m.collections))
	for name, c := range m.collections {
		out = append(out, Collection{Name: name, Metadata: map[string]any{
			"chunks":     len(c.items),
			"created_at": c.created.Format(time.RFC3339),
		}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// LazyVectorStore opens the underlying store on first use. Concurrent first
// calls wait for a single open; a failed open is retried by the next call.
type LazyVectorStore struct {
	open func(ctx context.Context) (VectorStore, error)

	mu    sync.Mutex
	store VectorStore
}

// NewLazyVectorStore wraps open.
func NewLazyVectorStore(open func(ctx context.Context) (VectorStore, error)) *LazyVectorStore {
	return &LazyVectorStore{open: open}
}

func (l *LazyVectorStore) get(ctx context.Context) (VectorStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	s, err := l.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	l.store = s
	return s, nil
}

func (l *LazyVectorStore) Upsert(ctx context.Context, collection string, texts []string, vectors [][]float32) ([]string, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Upsert(ctx, collection, texts, vectors)
}

func (l *LazyVectorStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]string, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, collection, vector, k)
}

func (l *LazyVectorStore) ListCollections(ctx context.Context) ([]Collection, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListCollections(ctx)
}
