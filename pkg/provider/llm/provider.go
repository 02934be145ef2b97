// Package llm defines the Provider interface for the large language model
// backends used to turn a transcript or a clinician question into a draft
// SOAP note.
//
// Only single-shot completions are needed: the generation layer builds a
// system prompt and one user message, asks for a JSON object and parses the
// reply. Implementations must be safe for concurrent use.
package llm

import "context"

// Usage reports token consumption for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to a completion.
type CompletionRequest struct {
	// Messages is the conversation, excluding the system prompt.
	Messages []Message

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// JSONMode asks the backend to constrain its output to a single JSON
	// object. Backends without native support rely on the prompt alone.
	JSONMode bool
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and blocks until the full reply is available.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages.
	CountTokens(messages []Message) (int, error)

	// Capabilities reports static limits of the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared rough token estimate used by providers without
// a tokenizer: about four characters per token plus per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
