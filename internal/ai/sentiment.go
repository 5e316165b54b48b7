package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const sentimentPrompt = `Rate the sentiment of the user's message on a scale of 1 (very negative) to 5 (very positive).
Respond with only a JSON object of the form {"rating": <1-5>, "confidence": <0-1>} and nothing else.`

// classifySentiment runs the sentiment prompt through the given generate
// function and parses the strict-JSON answer. Shared by all backends.
func classifySentiment(ctx context.Context, generate func(context.Context, GenerateRequest) (GenerateResult, error), text string) (Sentiment, error) {
	result, err := generate(ctx, GenerateRequest{
		System:      sentimentPrompt,
		History:     []Turn{{Role: RoleUser, Content: text}},
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		return Sentiment{}, err
	}
	return parseSentiment(result.Text)
}

// parseSentiment extracts the JSON object from model output, tolerating
// surrounding prose or code fences, and clamps the fields into range.
func parseSentiment(raw string) (Sentiment, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Sentiment{}, fmt.Errorf("%w: no JSON object in %q", ErrInvalidResponse, raw)
	}

	var s Sentiment
	if err := json.Unmarshal([]byte(raw[start:end+1]), &s); err != nil {
		return Sentiment{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if s.Rating < 1 {
		s.Rating = 1
	}
	if s.Rating > 5 {
		s.Rating = 5
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s, nil
}
