package ai

import (
	"context"
	"errors"
)

// Message is a single chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Options tunes a single provider call. Zero values mean "provider default".
type Options struct {
	// Model overrides the provider's configured model for this call.
	Model            string
	Temperature      float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxTokens        int
	// JSONObject requests structured JSON output. Backends that reject the
	// mode surface ErrUnsupportedOption so callers can downgrade once.
	JSONObject bool
}

// ErrUnsupportedOption marks a capability rejection: the backend refused an
// optional request feature (e.g. response_format). Callers retry at most once
// without the feature, never in a loop.
var ErrUnsupportedOption = errors.New("ai: unsupported request option")

type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan string, <-chan error)
}
