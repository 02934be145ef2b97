package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// GenerationFallback implements [generation.Provider] with automatic failover
// across generation backends, for example the hosted generation service first
// and the local LLM pipeline second. Each backend has its own circuit breaker.
//
// The last backend's error is preserved, so [generation.KindOf] still
// classifies the failure. When every backend is skipped because its breaker
// is open, the error is reported as a network failure.
type GenerationFallback struct {
	group *FallbackGroup[generation.Provider]
}

// Compile-time interface assertion.
var _ generation.Provider = (*GenerationFallback)(nil)

// NewGenerationFallback creates a [GenerationFallback] with primary as the
// preferred backend. Unless cfg overrides them, breakers count only
// [BackendFailure] errors and a cancelled request is not retried elsewhere.
func NewGenerationFallback(primary generation.Provider, primaryName string, cfg FallbackConfig) *GenerationFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = BackendFailure
	}
	if cfg.ShouldFallback == nil {
		cfg.ShouldFallback = notCanceled
	}
	return &GenerationFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generation backend.
func (f *GenerationFallback) AddFallback(name string, provider generation.Provider) {
	f.group.AddFallback(name, provider)
}

// GenerateFromAudio implements [generation.Provider].
func (f *GenerationFallback) GenerateFromAudio(ctx context.Context, req generation.AudioRequest) (*generation.Response, error) {
	resp, err := ExecuteWithResult(f.group, func(p generation.Provider) (*generation.Response, error) {
		return p.GenerateFromAudio(ctx, req)
	})
	return resp, classify(err)
}

// GenerateFromText implements [generation.Provider].
func (f *GenerationFallback) GenerateFromText(ctx context.Context, req generation.TextRequest) (*generation.Response, error) {
	resp, err := ExecuteWithResult(f.group, func(p generation.Provider) (*generation.Response, error) {
		return p.GenerateFromText(ctx, req)
	})
	return resp, classify(err)
}

// States returns the breaker state of every backend.
func (f *GenerationFallback) States() []EntryState {
	return f.group.States()
}

// Healthy reports whether at least one backend is accepting calls.
func (f *GenerationFallback) Healthy() bool {
	return f.group.Healthy()
}

// BackendFailure reports whether err indicates an unhealthy generation
// backend. Cancelled calls, empty extractions and rejected requests (4xx
// other than 408 and 429) do not.
func BackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var gerr *generation.Error
	if !errors.As(err, &gerr) {
		return true
	}
	switch gerr.Kind {
	case generation.EmptyResponse:
		return false
	case generation.ServiceError:
		return transientStatus(gerr.Status)
	}
	return true
}

// transientStatus reports whether an HTTP status says the backend is
// struggling rather than that the request was wrong. Zero means no status.
func transientStatus(s int) bool {
	return s == 0 || s >= 500 || s == http.StatusRequestTimeout || s == http.StatusTooManyRequests
}

func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *generation.Error
	if errors.As(err, &gerr) {
		return err
	}
	return generation.NewNetworkFailure(err)
}
