// Package mock provides a test double for the generation.Provider interface.
//
// By default both methods return a Response built from Raw, echoing the
// request token, or Err when set. AudioFunc and TextFunc take precedence and
// let tests control ordering, e.g. to complete an older request after a newer
// one.
//
// Example:
//
//	p := &mock.Provider{Raw: generation.StringForm("Plan: rest")}
//	resp, err := p.GenerateFromText(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// Provider is a mock implementation of generation.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Raw is the payload returned by both methods when no func override is set.
	Raw generation.RawResponse

	// Transcript is copied onto every default response.
	Transcript string

	// Err, if non-nil, is returned instead of a response.
	Err error

	// AudioFunc, if set, handles GenerateFromAudio.
	AudioFunc func(ctx context.Context, req generation.AudioRequest) (*generation.Response, error)

	// TextFunc, if set, handles GenerateFromText.
	TextFunc func(ctx context.Context, req generation.TextRequest) (*generation.Response, error)

	// --- Call records (read after test) ---

	// AudioCalls records every GenerateFromAudio request in order.
	AudioCalls []generation.AudioRequest

	// TextCalls records every GenerateFromText request in order.
	TextCalls []generation.TextRequest
}

// GenerateFromAudio records the call and returns the configured result.
func (p *Provider) GenerateFromAudio(ctx context.Context, req generation.AudioRequest) (*generation.Response, error) {
	p.mu.Lock()
	p.AudioCalls = append(p.AudioCalls, req)
	fn := p.AudioFunc
	raw, transcript, err := p.Raw, p.Transcript, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &generation.Response{Token: req.Token, Transcript: transcript, Raw: raw}, nil
}

// GenerateFromText records the call and returns the configured result.
func (p *Provider) GenerateFromText(ctx context.Context, req generation.TextRequest) (*generation.Response, error) {
	p.mu.Lock()
	p.TextCalls = append(p.TextCalls, req)
	fn := p.TextFunc
	raw, transcript, err := p.Raw, p.Transcript, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &generation.Response{Token: req.Token, Transcript: transcript, Raw: raw}, nil
}

// Calls returns the number of recorded audio and text calls. Thread-safe.
func (p *Provider) Calls() (audio, text int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AudioCalls), len(p.TextCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AudioCalls = nil
	p.TextCalls = nil
}

// Ensure Provider implements generation.Provider at compile time.
var _ generation.Provider = (*Provider)(nil)
