package generation

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when the node names no model.
const DefaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAI is the conversational Chat Completions backend.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates the backend for apiKey. Automatic SDK retries are off.
func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAI {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemInstruction)}
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    modelOr(req.Model, DefaultOpenAIModel),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoAnswer(ProviderOpenAI)
	}
	return resp.Choices[0].Message.Content, nil
}
