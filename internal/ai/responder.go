// Package ai abstracts the text-generation providers a bot can reply with.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Generation failure classes. ErrProviderUnavailable covers network, auth and
// rate-limit failures and is retryable by the caller; ErrInvalidResponse marks
// empty or unparseable model output and is not.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInvalidResponse     = errors.New("invalid ai response")
	ErrUnknownProvider     = errors.New("unknown ai provider")
)

// Role of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation history sent to the model.
type Turn struct {
	Role    string
	Content string
}

// GenerateRequest carries a bot's per-request generation configuration.
type GenerateRequest struct {
	System      string
	History     []Turn
	Model       string
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the model's reply plus usage metadata.
type GenerateResult struct {
	Text       string
	TokensUsed int
	Latency    time.Duration
}

// Sentiment is the result of the non-conversational sentiment utility.
type Sentiment struct {
	Rating     int     `json:"rating"`     // 1..5
	Confidence float64 `json:"confidence"` // 0..1
}

// Responder generates replies from a conversation history. Implementations
// wrap one hosted provider each and are selected per bot by configuration.
type Responder interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	ClassifySentiment(ctx context.Context, text string) (Sentiment, error)
}

// Registry maps provider names to configured Responder backends.
type Registry struct {
	backends map[string]Responder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Responder)}
}

// Register adds a backend under the given provider name.
func (r *Registry) Register(name string, backend Responder) {
	r.backends[name] = backend
}

// Get returns the backend for a provider name.
func (r *Registry) Get(name string) (Responder, error) {
	backend, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return backend, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
