package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/scribe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Unless cfg overrides them, a request the model rejected (see
// [llm.StatusError]) or the caller cancelled does not count against the
// breaker, and a cancelled request is not retried elsewhere.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && transientStatus(llm.StatusCode(err))
		}
	}
	if cfg.ShouldFallback == nil {
		cfg.ShouldFallback = notCanceled
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens counts with the provider that would answer next.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	_, p, _ := f.group.Active()
	return p.CountTokens(messages)
}

// Capabilities reports the limits of the provider that would answer next,
// so prompt budgeting follows a failover to a smaller model.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	_, p, _ := f.group.Active()
	return p.Capabilities()
}
