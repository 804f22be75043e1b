package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/chat-relay/internal/model"
)

// OpenAI implements Completer with the OpenAI chat completions API, or
// any server speaking the same wire format when BaseURL is set.
type OpenAI struct {
	client *openai.Client
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
}

// NewOpenAI creates an OpenAI-backed Completer.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

// Complete sends turns as chat messages and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, modelName string, turns []model.Turn) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(turns),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func toOpenAIMessages(turns []model.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case model.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case model.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return messages
}
