package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func TestOpenAIBackendSendsSystemAndHistory(t *testing.T) {
	bodies := make(chan map[string]json.RawMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"X is ..."}}]}`))
	}))
	defer srv.Close()

	b := NewOpenAI("sk-test", openaiopt.WithBaseURL(srv.URL+"/"))
	answer, err := b.Generate(context.Background(), Request{
		Prompt:  "Question: What is X?",
		History: []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "X is ...", answer)

	body := <-bodies
	var model string
	require.NoError(t, json.Unmarshal(body["model"], &model))
	assert.Equal(t, DefaultOpenAIModel, model)

	var msgs []capturedMessage
	require.NoError(t, json.Unmarshal(body["messages"], &msgs))
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, SystemInstruction, msgs[0].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "user", msgs[3].Role)
	assert.Equal(t, "Question: What is X?", msgs[3].Content)
}

func TestAnthropicBackend(t *testing.T) {
	bodies := make(chan map[string]json.RawMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"Paris."}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	b := NewAnthropic("sk-ant", anthropicopt.WithBaseURL(srv.URL+"/"))
	answer, err := b.Generate(context.Background(), Request{Prompt: "Capital of France?", History: []Turn{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", answer)

	body := <-bodies
	assert.Contains(t, string(body["system"]), SystemInstruction)
	var msgs []capturedMessage
	require.NoError(t, json.Unmarshal(body["messages"], &msgs))
	assert.Len(t, msgs, 2)
}

func TestGeminiBackendIgnoresHistory(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.Contents, 1) {
			bodies <- body.Contents[0].Parts[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Blue"},{"text":" sky."}]}}]}`))
	}))
	defer srv.Close()

	b := NewGemini("g-key", srv.URL)
	answer, err := b.Generate(context.Background(), Request{Prompt: "Sky colour?", History: []Turn{{Role: "user", Content: "old"}}})
	require.NoError(t, err)
	assert.Equal(t, "Blue sky.", answer)
	assert.Equal(t, "Sky colour?", <-bodies)
}

func TestGeminiBackendReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	_, err := NewGemini("bad", srv.URL).Generate(context.Background(), Request{Prompt: "hi", Model: "models/gemini-pro"})
	assert.ErrorContains(t, err, "API key not valid")
}

func TestGeminiBackendNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := NewGemini("k", srv.URL).Generate(context.Background(), Request{Prompt: "hi", Model: "models/gemini-pro"})
	assert.Error(t, err)
}

func TestOllamaBackendStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		_, _ = w.Write([]byte(`{"response":"Hel","done":false}` + "\n" + `{"response":"lo","done":true}` + "\n"))
	}))
	defer srv.Close()

	answer, err := NewOllama(srv.URL).Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", answer)
}

func TestOllamaBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL).Generate(context.Background(), Request{Prompt: "hi"})
	assert.ErrorContains(t, err, "model not found")
}
