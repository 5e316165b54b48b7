package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicResponder generates replies through the Anthropic messages API.
type AnthropicResponder struct {
	client anthropic.Client
}

// NewAnthropicResponder creates a backend authenticated with the given API key.
func NewAnthropicResponder(apiKey string) *AnthropicResponder {
	return &AnthropicResponder{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Generate implements Responder.
func (a *AnthropicResponder) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	messages := make([]anthropic.MessageParam, 0, len(req.History))
	for _, turn := range req.History {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	started := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return GenerateResult{}, classifyAPIError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		sb.WriteString(block.Text)
	}
	text := sb.String()
	if text == "" {
		return GenerateResult{}, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	return GenerateResult{
		Text:       text,
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Latency:    time.Since(started),
	}, nil
}

// ClassifySentiment implements Responder.
func (a *AnthropicResponder) ClassifySentiment(ctx context.Context, text string) (Sentiment, error) {
	return classifySentiment(ctx, a.Generate, text)
}
