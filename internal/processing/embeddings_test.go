package processing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder(t *testing.T) {
	models := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		m, _ := body["model"].(string)
		models <- m
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0.5,0.25]},
			        {"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", option.WithBaseURL(srv.URL+"/"))
	vecs, err := e.Embed(context.Background(), []string{"first", "second"}, "")

	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIEmbeddingModel, <-models)
	assert.Equal(t, [][]float32{{1, 0}, {0.5, 0.25}}, vecs)
}

func TestOpenAIEmbedderError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", option.WithBaseURL(srv.URL+"/"))
	_, err := e.Embed(context.Background(), []string{"x"}, "custom-model")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "no retries")
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "", 2)
	vecs, err := e.Embed(context.Background(), []string{"abc", "a"}, "")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {1, 1}}, vecs)

	strict := NewOllamaEmbedder(srv.URL, "", 768)
	_, err = strict.Embed(context.Background(), []string{"abc"}, "")
	assert.ErrorContains(t, err, "expected embedding dim 768")
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	_, err := NewOllamaEmbedder("http://unused", "", 0).Embed(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrNoTexts)
}

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "stub" }
func (stubEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestLazyOpensOnce(t *testing.T) {
	var opens atomic.Int32
	l := NewLazy("stub", func() (Embedder, error) {
		opens.Add(1)
		return stubEmbedder{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Embed(context.Background(), []string{"x"}, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), opens.Load())
}

func TestLazyRetriesFailedOpen(t *testing.T) {
	fail := true
	l := NewLazy("stub", func() (Embedder, error) {
		if fail {
			return nil, errors.New("not ready")
		}
		return stubEmbedder{}, nil
	})

	_, err := l.Embed(context.Background(), []string{"x"}, "")
	require.ErrorContains(t, err, "not ready")

	fail = false
	_, err = l.Embed(context.Background(), []string{"x"}, "")
	assert.NoError(t, err)
}

func TestSelect(t *testing.T) {
	assert.Equal(t, "openai", Select(EmbedderConfig{OpenAIAPIKey: "k"}).Name())

	local := Select(EmbedderConfig{})
	assert.Equal(t, "ollama", local.Name())
	_, err := local.Embed(context.Background(), []string{"x"}, "")
	assert.ErrorContains(t, err, "no local embedding endpoint")
}
