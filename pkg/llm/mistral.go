package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// DefaultMistralBaseURL is the OpenAI-compatible endpoint of the Mistral API.
const DefaultMistralBaseURL = "https://api.mistral.ai/v1"

// MistralCompleter streams chat completions from Mistral through its
// OpenAI-compatible chat completions endpoint.
type MistralCompleter struct {
	client *openai.Client
	logger *zap.Logger
}

// NewMistralCompleter creates a completer authenticated with apiKey.
// An empty baseURL uses DefaultMistralBaseURL.
func NewMistralCompleter(apiKey, baseURL string, logger *zap.Logger) *MistralCompleter {
	if baseURL == "" {
		baseURL = DefaultMistralBaseURL
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		// Failures are surfaced to the client, never retried.
		option.WithMaxRetries(0),
	)

	return &MistralCompleter{
		client: &client,
		logger: logger,
	}
}

// Stream implements Completer.
func (m *MistralCompleter) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	m.logger.Debug("opening completion stream",
		zap.String("model", req.Model),
		zap.Int("message_count", len(messages)),
	)

	return newTokenStream(ctx, func(ctx context.Context, tokens chan<- string) error {
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}

			select {
			case tokens <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := stream.Err(); err != nil {
			return fmt.Errorf("mistral streaming error: %w", err)
		}
		return nil
	}), nil
}
