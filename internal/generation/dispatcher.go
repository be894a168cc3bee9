// Package generation routes a composed prompt to one of several language
// model backends and normalizes the answer to plain text.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// SystemInstruction precedes every conversational request.
const SystemInstruction = "You are an assistant that answers using provided context first. Be concise."

// MaxHistoryTurns bounds the prior turns sent to conversational backends.
const MaxHistoryTurns = 5

// preference is the order used when a node names no provider.
var preference = []string{ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderOllama}

// credentialEnv names the setting each provider needs.
var credentialEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOllama:    "OLLAMA_URL",
}

// Turn is one prior chat message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is what a backend receives.
type Request struct {
	Prompt  string
	Model   string
	History []Turn
}

// Backend is a single language model provider.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Dispatcher picks a backend and normalizes its result.
type Dispatcher struct {
	backends map[string]Backend
	logger   *slog.Logger
}

// NewDispatcher registers the configured backends. Providers without a
// backend are known but unavailable.
func NewDispatcher(logger *slog.Logger, backends ...Backend) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{backends: make(map[string]Backend, len(backends)), logger: logger}
	for _, b := range backends {
		if b != nil {
			d.backends[b.Name()] = b
		}
	}
	return d
}

// Configured lists the available providers in preference order.
func (d *Dispatcher) Configured() []string {
	var out []string
	for _, p := range preference {
		if _, ok := d.backends[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Resolve returns the provider to use for requested, which may be empty.
func (d *Dispatcher) Resolve(requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		if cfg := d.Configured(); len(cfg) > 0 {
			return cfg[0], nil
		}
		return "", apperr.New(apperr.CodeProviderUnavailable, "no generation provider configured")
	}
	env, known := credentialEnv[requested]
	if !known {
		return "", apperr.Newf(apperr.CodeProviderUnavailable, "unsupported provider %q", requested).
			WithDetails(map[string]any{"provider": requested})
	}
	if _, ok := d.backends[requested]; !ok {
		return "", apperr.Newf(apperr.CodeProviderUnavailable, "%s provider selected but %s is missing", requested, env).
			WithDetails(map[string]any{"provider": requested})
	}
	return requested, nil
}

// Known reports whether name is one of the provider names above.
func Known(name string) bool {
	_, ok := credentialEnv[name]
	return ok
}

// Generate sends prompt to the resolved provider and returns the answer with
// the provider name actually used. The name is empty when no backend could be
// resolved, so caller input never leaks into it.
func (d *Dispatcher) Generate(ctx context.Context, provider, prompt, model string, history []Turn) (string, string, error) {
	name, err := d.Resolve(provider)
	if err != nil {
		return "", "", err
	}
	b := d.backends[name]

	answer, err := b.Generate(ctx, Request{Prompt: prompt, Model: model, History: ConversationHistory(history, MaxHistoryTurns)})
	if err != nil {
		d.logger.ErrorContext(ctx, "generation failed", "provider", name, "model", model, "error", err)
		return "", name, apperr.Newf(apperr.CodeProviderError, "%s generation failed", name).
			WithCause(err).WithDetails(map[string]any{"provider": name})
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", name, apperr.Newf(apperr.CodeProviderError, "%s returned an empty answer", name).
			WithDetails(map[string]any{"provider": name})
	}
	return answer, name, nil
}

// ConversationHistory keeps user and assistant turns with content, bounded to
// the most recent max turns.
func ConversationHistory(history []Turn, max int) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if (t.Role == "user" || t.Role == "assistant") && strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

func modelOr(model, def string) string {
	if strings.TrimSpace(model) == "" {
		return def
	}
	return model
}

func errNoAnswer(provider string) error {
	return fmt.Errorf("%s: no choices returned", provider)
}
