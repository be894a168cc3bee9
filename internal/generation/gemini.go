package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
)

// generateContent payload: {"contents":[{"role":"user","parts":[{"text":"..."}]}]}
type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Gemini is the single-shot generateContent backend. Prior turns are not sent.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGemini creates the backend for apiKey. An empty baseURL uses the public
// Generative Language endpoint.
func NewGemini(apiKey, baseURL string) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &Gemini{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Gemini) Name() string { return ProviderGemini }

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := strings.TrimPrefix(modelOr(req.Model, DefaultGeminiModel), "models/")
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(model))

	body, _ := json.Marshal(map[string]any{
		"contents": []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling gemini: %w", err)
	}
	defer resp.Body.Close()

	var out geminiResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &out) == nil && out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("gemini error: %s", out.Error.Message)
		}
		return "", fmt.Errorf("gemini http status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		return "", errNoAnswer(ProviderGemini)
	}
	var answer strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		answer.WriteString(p.Text)
	}
	return answer.String(), nil
}
