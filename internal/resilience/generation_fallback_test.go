package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/generation"
	genmock "github.com/MrWong99/scribe/pkg/provider/generation/mock"
)

func TestGenerationFallback_Failover(t *testing.T) {
	primary := &genmock.Provider{Err: generation.NewServiceError(503, "overloaded")}
	secondary := &genmock.Provider{Raw: generation.StringForm("Plan: rest")}

	fb := NewGenerationFallback(primary, "service", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("llm", secondary)

	resp, err := fb.GenerateFromAudio(context.Background(), generation.AudioRequest{Token: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Token != 7 || resp.Raw.Text != "Plan: rest" {
		t.Fatalf("resp = %+v", resp)
	}
	if a, _ := primary.Calls(); a != 1 {
		t.Errorf("primary audio calls = %d, want 1", a)
	}
}

func TestGenerationFallback_PreservesErrorKind(t *testing.T) {
	primary := &genmock.Provider{Err: generation.NewNetworkFailure(errors.New("dial tcp: refused"))}
	secondary := &genmock.Provider{Err: generation.NewEmptyResponse()}

	fb := NewGenerationFallback(primary, "service", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("llm", secondary)

	_, err := fb.GenerateFromText(context.Background(), generation.TextRequest{Token: 1})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if generation.KindOf(err) != generation.EmptyResponse {
		t.Errorf("KindOf = %v, want empty_response (last backend's error)", generation.KindOf(err))
	}
}

func TestGenerationFallback_AllOpenIsNetworkFailure(t *testing.T) {
	primary := &genmock.Provider{Err: generation.NewServiceError(500, "boom")}
	fb := NewGenerationFallback(primary, "service", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	_, _ = fb.GenerateFromText(context.Background(), generation.TextRequest{})
	if fb.Healthy() {
		t.Fatal("single tripped backend reported healthy")
	}

	_, err := fb.GenerateFromText(context.Background(), generation.TextRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if generation.KindOf(err) != generation.NetworkFailure {
		t.Errorf("KindOf = %v, want network_failure", generation.KindOf(err))
	}
	if _, text := primary.Calls(); text != 1 {
		t.Errorf("primary text calls = %d, want 1 (breaker must short-circuit)", text)
	}
	if st := fb.States(); len(st) != 1 || st[0].Name != "service" || st[0].State != StateOpen {
		t.Errorf("States = %+v", st)
	}
}

func TestGenerationFallback_RejectedRequestDoesNotTrip(t *testing.T) {
	primary := &genmock.Provider{Err: generation.NewServiceError(422, "unsupported audio")}
	fb := NewGenerationFallback(primary, "service", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	for range 3 {
		_, err := fb.GenerateFromAudio(context.Background(), generation.AudioRequest{})
		if generation.KindOf(err) != generation.ServiceError {
			t.Fatalf("KindOf = %v, want service_error", generation.KindOf(err))
		}
	}
	if a, _ := primary.Calls(); a != 3 {
		t.Errorf("primary audio calls = %d, want 3", a)
	}
	if !fb.Healthy() {
		t.Error("4xx responses tripped the breaker")
	}
}

func TestGenerationFallback_CanceledStopsFailover(t *testing.T) {
	primary := &genmock.Provider{Err: context.Canceled}
	secondary := &genmock.Provider{Raw: generation.StringForm("Plan: rest")}
	fb := NewGenerationFallback(primary, "service", FallbackConfig{})
	fb.AddFallback("llm", secondary)

	_, err := fb.GenerateFromText(context.Background(), generation.TextRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, text := secondary.Calls(); text != 0 {
		t.Errorf("secondary text calls = %d, want 0", text)
	}
}

func TestBackendFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", generation.NewNetworkFailure(context.Canceled), false},
		{"network", generation.NewNetworkFailure(errors.New("reset")), true},
		{"plain error", errors.New("boom"), true},
		{"empty", generation.NewEmptyResponse(), false},
		{"400", generation.NewServiceError(400, ""), false},
		{"408", generation.NewServiceError(408, ""), true},
		{"429", generation.NewServiceError(429, ""), true},
		{"502", generation.NewServiceError(502, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BackendFailure(tt.err); got != tt.want {
				t.Errorf("BackendFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
