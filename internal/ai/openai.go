package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIResponder generates replies through the OpenAI chat completions API.
type OpenAIResponder struct {
	client openai.Client
}

// NewOpenAIResponder creates a backend authenticated with the given API key.
func NewOpenAIResponder(apiKey string) *OpenAIResponder {
	return &OpenAIResponder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Generate implements Responder.
func (o *OpenAIResponder) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, turn := range req.History {
		switch turn.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	started := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return GenerateResult{}, classifyAPIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return GenerateResult{}, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	return GenerateResult{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
		Latency:    time.Since(started),
	}, nil
}

// ClassifySentiment implements Responder.
func (o *OpenAIResponder) ClassifySentiment(ctx context.Context, text string) (Sentiment, error) {
	return classifySentiment(ctx, o.Generate, text)
}

// classifyAPIError maps transport/provider failures onto the package taxonomy.
// Network errors, auth failures and rate limits all land on
// ErrProviderUnavailable; only empty model output is ErrInvalidResponse.
func classifyAPIError(err error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
