package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/pkg/note"
)

// ErrDelivery wraps every error returned by a [DocumentSink].
var ErrDelivery = errors.New("editor: document delivery failed")

// Delivery is the full note document handed to a sink after an approval.
type Delivery struct {
	SessionID   string       `json:"session_id"`
	NoteID      string       `json:"note_id"`
	Content     note.Content `json:"content"`
	DeliveredAt time.Time    `json:"delivered_at"`
}

// DocumentSink receives merged notes. The note document itself is owned by
// the consumer; the editor keeps only a working copy.
type DocumentSink interface {
	// Name identifies the sink in metrics and logs.
	Name() string

	// Deliver hands over d. Implementations must be safe for concurrent use.
	Deliver(ctx context.Context, d Delivery) error
}

// LogSink logs section sizes of delivered notes. Note text is never logged.
type LogSink struct{}

var _ DocumentSink = LogSink{}

// Name implements [DocumentSink].
func (LogSink) Name() string { return "log" }

// Deliver implements [DocumentSink].
func (LogSink) Deliver(ctx context.Context, d Delivery) error {
	slog.InfoContext(ctx, "editor: note delivered",
		"session_id", d.SessionID,
		"note_id", d.NoteID,
		"subjective_len", len(d.Content.Subjective),
		"objective_len", len(d.Content.Objective),
		"assessment_len", len(d.Content.Assessment),
		"plan_len", len(d.Content.Plan),
	)
	return nil
}

// WebhookOption configures a [WebhookSink].
type WebhookOption func(*WebhookSink)

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(hc *http.Client) WebhookOption {
	return func(w *WebhookSink) {
		w.client = hc
	}
}

// WithWebhookHeader adds a header to every request, e.g. an authorization
// token expected by the receiving system.
func WithWebhookHeader(key, value string) WebhookOption {
	return func(w *WebhookSink) {
		w.headers.Set(key, value)
	}
}

// WithWebhookBreaker overrides the circuit breaker settings.
func WithWebhookBreaker(cfg resilience.CircuitBreakerConfig) WebhookOption {
	return func(w *WebhookSink) {
		w.breakerCfg = cfg
	}
}

// WebhookSink POSTs each delivery as JSON to a fixed URL. Calls go through
// a circuit breaker so a dead receiver fails fast.
type WebhookSink struct {
	url        string
	client     *http.Client
	headers    http.Header
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
}

var _ DocumentSink = (*WebhookSink)(nil)

// NewWebhookSink returns a sink posting to url.
func NewWebhookSink(url string, opts ...WebhookOption) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("editor: webhook url must not be empty")
	}
	w := &WebhookSink{
		url:        url,
		client:     &http.Client{Timeout: 15 * time.Second},
		headers:    make(http.Header),
		breakerCfg: resilience.CircuitBreakerConfig{Name: "webhook"},
	}
	for _, o := range opts {
		o(w)
	}
	w.breaker = resilience.NewCircuitBreaker(w.breakerCfg)
	return w, nil
}

// Name implements [DocumentSink].
func (w *WebhookSink) Name() string { return "webhook" }

// Healthy reports whether the breaker currently lets requests through.
func (w *WebhookSink) Healthy() bool {
	return w.breaker.State() != resilience.StateOpen
}

// Deliver implements [DocumentSink].
func (w *WebhookSink) Deliver(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrDelivery, err)
	}
	err = w.breaker.Execute(func() error {
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range w.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: http request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: receiver returned HTTP %d", resp.StatusCode)
	}
	return nil
}
