package generation

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 1024
)

// Anthropic is the conversational Messages API backend.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic creates the backend for apiKey. Automatic SDK retries are off.
func NewAnthropic(apiKey string, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, t := range req.History {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelOr(req.Model, DefaultAnthropicModel)),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemInstruction}},
		Messages:  messages,
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	return out.String(), nil
}
