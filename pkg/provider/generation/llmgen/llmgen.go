// Package llmgen implements [generation.Provider] in-process by chaining a
// batch speech-to-text provider with a large language model.
//
// Audio requests are transcribed by the [stt.Provider] and the transcript is
// summarised into a SOAP note by the [llm.Provider], which is instructed to
// answer with a single JSON object keyed by section name. Text requests skip
// transcription and ask the model to draft content for one target section.
//
// The model reply is handed back as a raw payload exactly like the remote
// service would return it: JSON objects become ObjectForm (or Wrapped when
// the model adds an envelope) and anything else is passed through as
// StringForm. Section extraction is left to the caller.
package llmgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	defaultTemperature = 0.2

	// replyTokens is the completion budget for one note. Models with a
	// smaller output limit get their limit instead.
	replyTokens = 1024
)

const audioSystemPrompt = `You are a clinical documentation assistant. You turn the transcript of a clinician's dictation or a clinician-patient encounter into a SOAP note.

Rules:
- Use only information present in the transcript. Never invent findings, vitals, diagnoses or medications.
- Subjective: history and symptoms as reported by the patient.
- Objective: examination findings, vitals, test results.
- Assessment: the clinician's impression or differential.
- Plan: treatment, orders, follow-up.
- Leave a section as an empty string when the transcript has nothing for it.
- Write concise clinical prose. Do not add headings inside section text.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"subjective": "...", "objective": "...", "assessment": "...", "plan": "..."}`

const textSystemPrompt = `You are a clinical documentation assistant helping a clinician write the %s section of a SOAP note.

Answer the clinician's request with text suitable for direct insertion into that section. Use only the context provided and general clinical knowledge; never invent patient-specific findings.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"%s": "..."}`

// Compile-time interface assertion.
var _ generation.Provider = (*Generator)(nil)

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the LLM sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(g *Generator) {
		g.temperature = temp
	}
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(g *Generator) {
		g.language = lang
	}
}

// WithKeywords sets vocabulary hints forwarded to the STT provider.
func WithKeywords(kw []string) Option {
	return func(g *Generator) {
		g.keywords = append([]string(nil), kw...)
	}
}

// Generator produces draft notes with an STT provider and an LLM.
// It is safe for concurrent use.
type Generator struct {
	stt         stt.Provider
	llm         llm.Provider
	temperature float64
	language    string
	keywords    []string
}

// New returns a Generator. transcriber may be nil, in which case audio
// requests fail with a ServiceError; model must not be nil.
func New(transcriber stt.Provider, model llm.Provider, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, errors.New("llmgen: llm provider must not be nil")
	}
	g := &Generator{
		stt:         transcriber,
		llm:         model,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// GenerateFromAudio implements [generation.Provider].
func (g *Generator) GenerateFromAudio(ctx context.Context, req generation.AudioRequest) (*generation.Response, error) {
	if g.stt == nil {
		return nil, generation.NewServiceError(501, "audio transcription is not configured")
	}

	tr, err := g.stt.Transcribe(ctx, stt.Request{
		Audio:    req.Audio.Data,
		MIMEType: req.Audio.MIMEType,
		Language: g.language,
		Keywords: g.keywords,
	})
	if err != nil {
		return nil, generation.NewNetworkFailure(fmt.Errorf("llmgen: transcribe: %w", err))
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil, generation.NewEmptyResponse()
	}

	raw, err := g.complete(ctx, audioSystemPrompt, "Transcript:\n"+tr.Text)
	if err != nil {
		return nil, err
	}

	dur := tr.Duration
	if dur == 0 {
		dur = req.Audio.Duration
	}
	return &generation.Response{
		Token:      req.Token,
		Transcript: tr.Text,
		Raw:        raw,
		Metadata:   generation.Metadata{Duration: dur, Language: tr.Language},
	}, nil
}

// GenerateFromText implements [generation.Provider].
func (g *Generator) GenerateFromText(ctx context.Context, req generation.TextRequest) (*generation.Response, error) {
	section := req.Context.TargetSection
	if !section.IsValid() {
		section = note.Plan
	}

	raw, err := g.complete(ctx, fmt.Sprintf(textSystemPrompt, section.Title(), section), buildTextMessage(req))
	if err != nil {
		return nil, err
	}
	return &generation.Response{Token: req.Token, Raw: raw}, nil
}

// buildTextMessage renders the clinician query and its context as the user
// message of a text request.
func buildTextMessage(req generation.TextRequest) string {
	var sb strings.Builder
	if v := req.Context.AppointmentType; v != "" {
		fmt.Fprintf(&sb, "Appointment type: %s\n", v)
	}
	if v := req.Context.ReasonForVisit; v != "" {
		fmt.Fprintf(&sb, "Reason for visit: %s\n", v)
	}
	if v := req.Context.ExistingSectionText; v != "" {
		fmt.Fprintf(&sb, "Current section text:\n%s\n", v)
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString("Request: ")
	sb.WriteString(req.Query)
	return sb.String()
}

func (g *Generator) complete(ctx context.Context, system, user string) (generation.RawResponse, error) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	maxTokens, err := g.replyBudget(msgs)
	if err != nil {
		return generation.RawResponse{}, err
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Temperature:  g.temperature,
		MaxTokens:    maxTokens,
		JSONMode:     true,
		Messages:     msgs[1:],
	})
	if err != nil {
		if status := llm.StatusCode(err); status >= 400 && status < 500 {
			return generation.RawResponse{}, generation.NewServiceError(status, err.Error())
		}
		return generation.RawResponse{}, generation.NewNetworkFailure(fmt.Errorf("llmgen: complete: %w", err))
	}
	if resp == nil {
		return generation.RawResponse{}, generation.NewEmptyResponse()
	}
	content := stripMarkdown(resp.Content)
	if content == "" {
		return generation.RawResponse{}, generation.NewEmptyResponse()
	}
	return generation.ParseRaw(content), nil
}

// replyBudget returns the completion token limit for msgs. A prompt that
// leaves no room for a reply in the model's context window is rejected with
// a 413 ServiceError, which retrying on the same model cannot fix.
func (g *Generator) replyBudget(msgs []llm.Message) (int, error) {
	caps := g.llm.Capabilities()
	budget := replyTokens
	if caps.MaxOutputTokens > 0 && caps.MaxOutputTokens < budget {
		budget = caps.MaxOutputTokens
	}
	if caps.ContextWindow <= 0 {
		return budget, nil
	}
	prompt, err := g.llm.CountTokens(msgs)
	if err != nil {
		prompt = llm.EstimateTokens(msgs)
	}
	if prompt+budget > caps.ContextWindow {
		return 0, generation.NewServiceError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("prompt of ~%d tokens exceeds the %d token context window", prompt, caps.ContextWindow))
	}
	return budget, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
