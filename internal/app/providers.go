package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/pkg/provider/generation"
	"github.com/MrWong99/scribe/pkg/provider/generation/httpapi"
	"github.com/MrWong99/scribe/pkg/provider/generation/llmgen"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// BuildGenerator instantiates every generation backend named in cfg, in
// order, and chains them behind circuit breakers. The first backend is the
// primary; the rest are fallbacks.
func BuildGenerator(cfg *config.Config, reg *config.Registry) (*resilience.GenerationFallback, error) {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: breakerConfig(cfg.Generation.Breaker)}

	// The LLM and STT chains are shared by every llm backend.
	var (
		model       llm.Provider
		transcriber stt.Provider
	)

	var chain *resilience.GenerationFallback
	for i, b := range cfg.Generation.Backends {
		var (
			p   generation.Provider
			err error
		)
		switch b.Kind {
		case config.BackendHTTP:
			p, err = newHTTPBackend(b)
		case config.BackendLLM:
			if model == nil {
				if model, err = buildLLMChain(cfg.Providers.LLM, reg, fbCfg); err != nil {
					return nil, err
				}
				if transcriber, err = buildSTTChain(cfg.Providers.STT, reg, fbCfg); err != nil {
					return nil, err
				}
			}
			p, err = llmgen.New(transcriber, model,
				llmgen.WithTemperature(b.Temperature),
				llmgen.WithLanguage(b.Language),
				llmgen.WithKeywords(b.Keywords),
			)
		default:
			err = fmt.Errorf("unknown kind %q", b.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("app: generation backend %q: %w", b.Name, err)
		}

		if i == 0 {
			chain = resilience.NewGenerationFallback(p, b.Name, fbCfg)
		} else {
			chain.AddFallback(b.Name, p)
		}
		slog.Info("generation backend created", "name", b.Name, "kind", b.Kind, "primary", i == 0)
	}
	if chain == nil {
		return nil, fmt.Errorf("app: no generation backends configured")
	}
	return chain, nil
}

func newHTTPBackend(b config.GenerationBackend) (generation.Provider, error) {
	var opts []httpapi.Option
	if b.APIKey != "" {
		opts = append(opts, httpapi.WithAPIKey(b.APIKey))
	}
	if b.Timeout > 0 {
		opts = append(opts, httpapi.WithTimeout(b.Timeout))
	}
	return httpapi.New(b.URL, opts...)
}

func buildLLMChain(entries []config.ProviderEntry, reg *config.Registry, fbCfg resilience.FallbackConfig) (llm.Provider, error) {
	var chain *resilience.LLMFallback
	for i, e := range entries {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", e.Name, "model", e.Model)
		if i == 0 {
			chain = resilience.NewLLMFallback(p, e.Name, fbCfg)
		} else {
			chain.AddFallback(e.Name, p)
		}
	}
	if chain == nil {
		return nil, fmt.Errorf("no llm providers configured")
	}
	return chain, nil
}

func buildSTTChain(entries []config.ProviderEntry, reg *config.Registry, fbCfg resilience.FallbackConfig) (stt.Provider, error) {
	var chain *resilience.STTFallback
	for i, e := range entries {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", e.Name, "model", e.Model)
		if i == 0 {
			chain = resilience.NewSTTFallback(p, e.Name, fbCfg)
		} else {
			chain.AddFallback(e.Name, p)
		}
	}
	if chain == nil {
		return nil, fmt.Errorf("no stt providers configured")
	}
	return chain, nil
}

func breakerConfig(b config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:   b.MaxFailures,
		ResetTimeout:  b.ResetTimeout,
		HalfOpenMax:   b.HalfOpenMax,
		OnStateChange: breakerTransitions(observe.DefaultMetrics()),
	}
}

// breakerTransitions returns a breaker hook that counts state changes in m.
func breakerTransitions(m *observe.Metrics) func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), name, to.String())
	}
}
