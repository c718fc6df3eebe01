// Package completion abstracts the text-completion capability consumed by
// the debate engine. Implementations must honor context cancellation.
package completion

import (
	"context"
	"errors"
)

// Message is one prior conversational turn handed to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Request asks for one completion given a system prompt and prior context.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Response carries the generated text plus the token usage the provider
// reported. TokensUsed falls back to a length estimate when the provider
// does not report usage.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
}

// Provider is the text-completion capability.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

var (
	ErrUnavailable = errors.New("completion_unavailable")
	ErrEmptyPrompt = errors.New("completion_empty_prompt")
	ErrBadResponse = errors.New("completion_bad_response")
	ErrRateLimited = errors.New("completion_rate_limited")
)

// EstimateTokens approximates token count as one token per four characters.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
