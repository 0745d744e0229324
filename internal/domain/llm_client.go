package domain

import "context"

// LLMMessage is one turn of the conversation sent to the generation backend.
type LLMMessage struct {
	Role    string
	Content string
}

// LLMResponse carries the LLM output and whether the generation finished.
type LLMResponse struct {
	Text string
	Done bool
}

// LLMStreamChunk is one fragment of a streamed generation.
type LLMStreamChunk struct {
	Text string
	Done bool
}

// LLMClient defines the capability to send a system prompt plus messages to a
// text-generation backend and receive the response, optionally streamed.
type LLMClient interface {
	Generate(ctx context.Context, system string, messages []LLMMessage, maxTokens int) (*LLMResponse, error)
	// GenerateStream returns a finite, non-restartable sequence of fragments.
	// The chunk channel is closed when generation ends; at most one error is
	// delivered on the error channel.
	GenerateStream(ctx context.Context, system string, messages []LLMMessage, maxTokens int) (<-chan LLMStreamChunk, <-chan error, error)
	Version() string
}
