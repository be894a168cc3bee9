package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultOllamaModel = "llama3"

// request body for Ollama
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Ollama streaming response chunks look like { "response": "...", "done": false }
type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Ollama is the single-shot local backend.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates the backend for the server at baseURL.
func NewOllama(baseURL string) *Ollama {
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), client: http.DefaultClient}
}

func (o *Ollama) Name() string { return ProviderOllama }

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	reqBody, _ := json.Marshal(ollamaRequest{Model: modelOr(req.Model, DefaultOllamaModel), Prompt: req.Prompt})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var answer strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decoding ollama response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		answer.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return answer.String(), nil
}
