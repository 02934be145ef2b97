// Package httpapi implements [generation.Provider] against the HTTP contract
// of the external transcription and summarisation service.
//
// Audio requests are sent as multipart/form-data with a single "audio" file
// part to POST {baseURL}/v1/transcribe. Text requests are sent as JSON
// {"message", "context"} to POST {baseURL}/v1/ask. Both endpoints answer with
//
//	{"transcript"?: string, "response": string|object, "metadata"?: {"duration": seconds, "language": string}}
//
// on success, or {"error": string} with a non-2xx status on failure.
//
// The client only interprets transport and status codes: non-2xx becomes a
// ServiceError, a transport failure a NetworkFailure and a successful status
// with no payload an EmptyResponse. The payload itself is passed on as a
// [generation.RawResponse] without any section parsing.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/scribe/pkg/provider/generation"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	transcribePath = "/v1/transcribe"
	askPath        = "/v1/ask"

	// TokenHeader carries the caller's request token to the service for
	// correlation in its logs.
	TokenHeader = "X-Request-Token"

	defaultTimeout = 120 * time.Second

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 8 << 20
)

// Compile-time interface assertion.
var _ generation.Provider = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIKey sets a bearer token sent in the Authorization header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client talks to the generation service over HTTP.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the service at baseURL (e.g.
// "https://scribe.example.com").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("httpapi: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// GenerateFromAudio implements [generation.Provider].
func (c *Client) GenerateFromAudio(ctx context.Context, req generation.AudioRequest) (*generation.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "recording"+stt.FileExtension(req.Audio.MIMEType))
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: create form file: %w", err))
	}
	if _, err := fw.Write(req.Audio.Data); err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: write audio data: %w", err))
	}
	if err := mw.Close(); err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: close multipart writer: %w", err))
	}

	return c.do(ctx, transcribePath, mw.FormDataContentType(), &body, req.Token)
}

// askBody is the JSON shape of a text request.
type askBody struct {
	Message string             `json:"message"`
	Context generation.Context `json:"context"`
}

// GenerateFromText implements [generation.Provider].
func (c *Client) GenerateFromText(ctx context.Context, req generation.TextRequest) (*generation.Response, error) {
	payload, err := json.Marshal(askBody{Message: req.Query, Context: req.Context})
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: marshal request: %w", err))
	}
	return c.do(ctx, askPath, "application/json", bytes.NewReader(payload), req.Token)
}

// envelope is the JSON shape of a service response.
type envelope struct {
	Transcript string          `json:"transcript"`
	Response   json.RawMessage `json:"response"`
	Metadata   *struct {
		Duration float64 `json:"duration"`
		Language string  `json:"language"`
	} `json:"metadata"`
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, token generation.Token) (*generation.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: create request: %w", err))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(TokenHeader, strconv.FormatUint(uint64(token), 10))
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: http request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("httpapi: read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, generation.NewServiceError(resp.StatusCode, serviceMessage(data))
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, generation.NewEmptyResponse()
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A non-JSON success body is narrative text.
		return &generation.Response{Token: token, Raw: generation.StringForm(string(data))}, nil
	}

	payload := bytes.TrimSpace(env.Response)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, generation.NewEmptyResponse()
	}

	raw, err := generation.DecodeRaw(payload)
	if err != nil {
		raw = generation.StringForm(string(payload))
	}

	out := &generation.Response{
		Token:      token,
		Transcript: env.Transcript,
		Raw:        raw,
	}
	if env.Metadata != nil {
		out.Metadata.Language = env.Metadata.Language
		if d := env.Metadata.Duration; d > 0 && !math.IsInf(d, 0) {
			out.Metadata.Duration = time.Duration(d * float64(time.Second))
		}
	}
	return out, nil
}

// maxMessageBytes caps the failure body text kept in a ServiceError.
const maxMessageBytes = 512

// serviceMessage extracts the {"error"} text of a failure body, falling back
// to the trimmed body itself.
func serviceMessage(data []byte) string {
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Error != "" {
		return env.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > maxMessageBytes {
		n := maxMessageBytes
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return msg
}
