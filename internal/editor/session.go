// Package editor ties one note-editing session together: the recorder, the
// generation backend, the suggestion tracker and the working copy of the
// note document.
//
// The flow is record → generate → normalize → suggest → approve/discard →
// deliver. Audio and text ("ask") requests share one token sequence, so only
// the most recently started request can produce the pending suggestion.
// Every failure on that path is reported in an [Outcome] with a retryable
// flag; nothing here ends the process.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/scribe/internal/normalize"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/internal/suggestion"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// Request validation errors.
var (
	ErrEmptyQuery     = errors.New("editor: query must not be empty")
	ErrInvalidSection = errors.New("editor: invalid target section")
	ErrInvalidMode    = errors.New("editor: invalid merge mode")
	ErrClosed         = errors.New("editor: session closed")
)

// Visit is the appointment context forwarded with text requests.
type Visit struct {
	AppointmentType string `json:"appointment_type,omitempty"`
	ReasonForVisit  string `json:"reason_for_visit,omitempty"`
}

// Config holds the dependencies of a [Session].
type Config struct {
	// ID identifies the session. A random UUID is used when empty.
	ID string

	// NoteID identifies the note document being edited.
	NoteID string

	// Document is the initial working copy of the note.
	Document note.Content

	Visit Visit

	// Source provides the microphone. Required.
	Source audio.Source

	// Generator answers audio and text requests. Required.
	Generator generation.Provider

	// Sink receives approved notes. Defaults to [LogSink].
	Sink DocumentSink

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// RecorderOptions are passed to [recorder.New].
	RecorderOptions []recorder.Option
}

// Status is a snapshot of a session for the UI.
type Status struct {
	ID         string                 `json:"id"`
	NoteID     string                 `json:"note_id"`
	CreatedAt  time.Time              `json:"created_at"`
	Recorder   recorder.Status        `json:"recorder"`
	Suggestion *suggestion.Suggestion `json:"suggestion,omitempty"`
	Latest     generation.Token       `json:"latest_token"`
	LastError  string                 `json:"last_error,omitempty"`
}

// Session is one clinician editing one note. All methods are safe for
// concurrent use.
type Session struct {
	id        string
	noteID    string
	createdAt time.Time
	gen       generation.Provider
	sink      DocumentSink
	metrics   *observe.Metrics
	tracker   *suggestion.Tracker
	rec       *recorder.Recorder

	// stopMu serialises StopRecording so audioOut belongs to one call.
	stopMu   sync.Mutex
	audioOut *Outcome

	mu     sync.Mutex
	doc    note.Content
	visit  Visit
	closed bool
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, errors.New("editor: audio source is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("editor: generator is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Sink == nil {
		cfg.Sink = LogSink{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		id:        cfg.ID,
		noteID:    cfg.NoteID,
		createdAt: time.Now().UTC(),
		gen:       cfg.Generator,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		doc:       cfg.Document,
		visit:     cfg.Visit,
	}
	s.tracker = suggestion.NewTracker(suggestion.WithStaleHook(func(generation.Token) {
		s.metrics.RecordStaleResult(context.Background())
	}))
	s.rec = recorder.New(cfg.Source, s.onAudio, cfg.RecorderOptions...)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// NoteID returns the ID of the note being edited.
func (s *Session) NoteID() string { return s.noteID }

// StartRecording acquires the microphone. A finished previous recording is
// acknowledged first, so the clinician can record again right after a
// result or an error.
func (s *Session) StartRecording(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	switch s.rec.Status().State {
	case recorder.Complete, recorder.Error:
		if err := s.rec.Acknowledge(); err != nil {
			return err
		}
	}
	return s.rec.Start(ctx)
}

// StopRecording ends the recording and waits for the generated suggestion.
//
// Lifecycle misuse (not recording, closed) is returned as an error. Every
// other failure, including losing the microphone, is reported in the
// Outcome.
func (s *Session) StopRecording(ctx context.Context) (Outcome, error) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.audioOut = nil
	err := s.rec.Stop(ctx)
	if out := s.audioOut; out != nil {
		return *out, nil
	}
	var recErr *recorder.RecordingError
	if errors.As(err, &recErr) {
		slog.WarnContext(ctx, "editor: recording failed", "session_id", s.id, "err", err)
		return failure(0, err), nil
	}
	if err == nil {
		err = errors.New("editor: recording produced no outcome")
	}
	return Outcome{}, err
}

// AcknowledgeRecording returns the recorder to Idle after a result or an
// error has been shown.
func (s *Session) AcknowledgeRecording() error {
	return s.rec.Acknowledge()
}

// RecorderStatus returns the recorder snapshot.
func (s *Session) RecorderStatus() recorder.Status {
	return s.rec.Status()
}

func (s *Session) onAudio(ctx context.Context, unit generation.AudioUnit) error {
	s.metrics.RecordingDuration.Record(ctx, unit.Duration.Seconds())
	token := s.tracker.Begin()
	out := s.generate(ctx, "audio", token, func(ctx context.Context) (*generation.Response, error) {
		return s.gen.GenerateFromAudio(ctx, generation.AudioRequest{Token: token, Audio: unit})
	})
	s.audioOut = &out
	return out.Err
}

// Ask sends a freeform query targeting one section. The current text of that
// section is sent along as plain text.
func (s *Session) Ask(ctx context.Context, section note.Section, query string) (Outcome, error) {
	if s.isClosed() {
		return Outcome{}, ErrClosed
	}
	if !section.IsValid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidSection, section)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Outcome{}, ErrEmptyQuery
	}

	s.mu.Lock()
	gc := generation.Context{
		TargetSection:       section,
		ExistingSectionText: note.PlainText(s.doc.Get(section)),
		AppointmentType:     s.visit.AppointmentType,
		ReasonForVisit:      s.visit.ReasonForVisit,
	}
	s.mu.Unlock()

	token := s.tracker.Begin()
	return s.generate(ctx, "text", token, func(ctx context.Context) (*generation.Response, error) {
		return s.gen.GenerateFromText(ctx, generation.TextRequest{Token: token, Query: query, Context: gc})
	}), nil
}

// generate runs call and feeds its result through normalization into the
// tracker.
func (s *Session) generate(ctx context.Context, shape string, token generation.Token, call func(context.Context) (*generation.Response, error)) Outcome {
	ctx = observe.WithSessionID(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "editor.generate",
		observe.Attr("generation.shape", shape),
		attribute.Int64("generation.token", int64(token)),
	)
	var err error
	defer func() { observe.EndSpan(span, err, ErrorKind(err)) }()

	start := time.Now()
	resp, err := call(ctx)
	if err == nil && resp == nil {
		err = generation.NewEmptyResponse()
	}
	s.metrics.RecordGeneration(ctx, shape, time.Since(start), ErrorKind(err))
	if err != nil {
		return s.fail(ctx, token, err)
	}

	content, err := normalize.Normalize(resp.Raw)
	if err != nil {
		s.metrics.RecordNormalizeFailure(ctx, resp.Raw.Kind.String())
		return s.fail(ctx, token, err)
	}

	if !s.tracker.Resolve(token, content) {
		return Outcome{Token: token, Stale: true}
	}
	sug := suggestion.Suggestion{Content: content, Status: suggestion.Pending, Token: token}
	return Outcome{Token: token, Suggestion: &sug, Transcript: resp.Transcript}
}

func (s *Session) fail(ctx context.Context, token generation.Token, err error) Outcome {
	if !s.tracker.Fail(token, err) {
		return Outcome{Token: token, Stale: true}
	}
	observe.Logger(ctx).Warn("editor: generation failed",
		"token", token,
		"kind", ErrorKind(err),
		"err", err,
	)
	return failure(token, err)
}

// Pending returns the pending suggestion, if any.
func (s *Session) Pending() (suggestion.Suggestion, bool) {
	return s.tracker.Pending()
}

// Approve merges the pending suggestion issued for token into the working
// copy and delivers the result to the sink. When targets is empty, the
// sections that carry text in the suggestion are merged. A suggestion that
// was replaced after the clinician reviewed it is not merged; the error
// wraps [suggestion.ErrStaleSuggestion].
//
// A delivery failure does not undo the merge: the merged document is
// returned together with an error wrapping [ErrDelivery].
func (s *Session) Approve(ctx context.Context, token generation.Token, mode note.Mode, targets []note.Section) (note.Content, error) {
	if !mode.IsValid() {
		return s.Document(), fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	for _, t := range targets {
		if !t.IsValid() {
			return s.Document(), fmt.Errorf("%w: %q", ErrInvalidSection, t)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return note.Content{}, ErrClosed
	}
	merged, err := s.tracker.Approve(token, s.doc, mode, targets)
	if err != nil {
		doc := s.doc
		s.mu.Unlock()
		return doc, err
	}
	s.doc = merged
	s.mu.Unlock()

	return merged, s.deliver(ctx, merged)
}

func (s *Session) deliver(ctx context.Context, doc note.Content) error {
	err := s.sink.Deliver(ctx, Delivery{
		SessionID:   s.id,
		NoteID:      s.noteID,
		Content:     doc,
		DeliveredAt: time.Now().UTC(),
	})
	status := "ok"
	if err != nil {
		status = "error"
		slog.ErrorContext(ctx, "editor: delivering note", "session_id", s.id, "sink", s.sink.Name(), "err", err)
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
	}
	s.metrics.RecordDocumentDelivery(ctx, s.sink.Name(), status)
	return err
}

// Discard drops the pending suggestion.
func (s *Session) Discard() error {
	return s.tracker.Discard()
}

// Document returns the working copy of the note.
func (s *Session) Document() note.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// SetDocument replaces the working copy, e.g. after manual edits or after a
// template was applied.
func (s *Session) SetDocument(doc note.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// Insert merges content, typically a template, into the working copy and
// returns the result. Empty targets select the sections of content that
// carry text. Nothing is delivered; the clinician still reviews the note.
func (s *Session) Insert(content note.Content, mode note.Mode, targets []note.Section) (note.Content, error) {
	if !mode.IsValid() {
		return s.Document(), fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	for _, t := range targets {
		if !t.IsValid() {
			return s.Document(), fmt.Errorf("%w: %q", ErrInvalidSection, t)
		}
	}
	if len(targets) == 0 {
		targets = content.Filled()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return note.Content{}, ErrClosed
	}
	s.doc = note.Merge(s.doc, content, mode, targets)
	return s.doc, nil
}

// SetVisit replaces the appointment context.
func (s *Session) SetVisit(v Visit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visit = v
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	st := Status{
		ID:        s.id,
		NoteID:    s.noteID,
		CreatedAt: s.createdAt,
		Recorder:  s.rec.Status(),
		Latest:    s.tracker.Latest(),
	}
	if sug, ok := s.tracker.Current(); ok {
		st.Suggestion = &sug
	}
	if err := s.tracker.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Close releases the microphone and makes the session unusable. It is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.rec.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
