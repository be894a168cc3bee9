package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIEmbeddingModel is used when no model override is given.
const DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

// ErrNoTexts is returned when Embed is called without input.
var ErrNoTexts = errors.New("no texts to embed")

// Embedder turns texts into vectors. An empty model selects the backend default.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
}

// NewOpenAIEmbedder creates an embedder for apiKey. Extra options such as a
// base URL are passed to the client. The SDK's automatic retries are off.
func NewOpenAIEmbedder(apiKey string, opts ...option.RequestOption) *OpenAIEmbedder {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client}
}

func (e *OpenAIEmbedder) Name() string { return "openai" }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	if model == "" {
		model = DefaultOpenAIEmbeddingModel
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[idx] = vec
	}
	return out, nil
}

// request struct for Ollama API
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// response struct from Ollama API
type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OllamaEmbedder calls a local Ollama server, one request per text.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	// dims, when non-zero, is enforced on every returned vector.
	dims int
}

// NewOllamaEmbedder creates an embedder for the Ollama server at baseURL.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  http.DefaultClient,
		dims:    dims,
	}
}

func (e *OllamaEmbedder) Name() string { return "ollama" }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	if model == "" {
		model = e.model
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.embedOne(ctx, text, model)
		if err != nil {
			return nil, fmt.Errorf("failed embedding chunk %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text, model string) ([]float32, error) {
	data, _ := json.Marshal(ollamaRequest{Model: model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama error: %s", strings.TrimSpace(string(body)))
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed decode response: %w", err)
	}
	if len(oResp.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding")
	}
	if e.dims > 0 && len(oResp.Embedding) != e.dims {
		return nil, fmt.Errorf("expected embedding dim %d, got %d", e.dims, len(oResp.Embedding))
	}
	return oResp.Embedding, nil
}

// Lazy builds its Embedder on first use. Concurrent first calls share one
// construction. A failed construction is retried on the next call.
type Lazy struct {
	name string
	open func() (Embedder, error)

	mu sync.Mutex
	e  Embedder
}

// NewLazy wraps open. name is reported before the embedder exists.
func NewLazy(name string, open func() (Embedder, error)) *Lazy {
	return &Lazy{name: name, open: open}
}

func (l *Lazy) get() (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.e != nil {
		return l.e, nil
	}
	e, err := l.open()
	if err != nil {
		return nil, err
	}
	l.e = e
	return e, nil
}

func (l *Lazy) Name() string { return l.name }

func (l *Lazy) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	e, err := l.get()
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", l.name, err)
	}
	return e.Embed(ctx, texts, model)
}

// EmbedderConfig selects an embedding backend.
type EmbedderConfig struct {
	OpenAIAPIKey string
	OllamaURL    string
	OllamaModel  string
}

// Select returns the OpenAI embedder when a key is configured, otherwise a
// lazily created local Ollama embedder.
func Select(cfg EmbedderConfig) Embedder {
	if cfg.OpenAIAPIKey != "" {
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey)
	}
	return NewLazy("ollama", func() (Embedder, error) {
		if cfg.OllamaURL == "" {
			return nil, errors.New("no local embedding endpoint configured")
		}
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, 0), nil
	})
}
