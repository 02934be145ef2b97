package editor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/editor"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/internal/suggestion"
	"github.com/MrWong99/scribe/pkg/audio"
	audiomock "github.com/MrWong99/scribe/pkg/audio/mock"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
	genmock "github.com/MrWong99/scribe/pkg/provider/generation/mock"
)

// captureSink records every delivery and optionally fails.
type captureSink struct {
	mu         sync.Mutex
	deliveries []editor.Delivery
	err        error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, d editor.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
	return c.err
}

func (c *captureSink) all() []editor.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]editor.Delivery(nil), c.deliveries...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fixture struct {
	session *editor.Session
	source  *audiomock.Source
	gen     *genmock.Provider
	sink    *captureSink
}

func newFixture(t *testing.T, doc note.Content) *fixture {
	t.Helper()
	f := &fixture{
		source: &audiomock.Source{},
		gen:    &genmock.Provider{},
		sink:   &captureSink{},
	}
	s, err := editor.New(editor.Config{
		NoteID:    "note-1",
		Document:  doc,
		Visit:     editor.Visit{AppointmentType: "follow-up", ReasonForVisit: "cough"},
		Source:    f.source,
		Generator: f.gen,
		Sink:      f.sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	f.session = s
	return f
}

// record runs one full recording with the given chunks.
func (f *fixture) record(t *testing.T, chunks ...string) editor.Outcome {
	t.Helper()
	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	mic := f.source.Acquired[len(f.source.Acquired)-1]
	for _, c := range chunks {
		mic.Push([]byte(c))
	}
	waitFor(t, func() bool { return f.session.RecorderStatus().Chunks == len(chunks) })
	out, err := f.session.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := editor.New(editor.Config{Generator: &genmock.Provider{}}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := editor.New(editor.Config{Source: &audiomock.Source{}}); err == nil {
		t.Error("expected error without generator")
	}
}

func TestSession_RecordApproveDeliver(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Subjective: "Prior complaint."})
	f.gen.Raw = generation.ObjectForm(map[string]string{
		"subjective": "Cough for 3 days.",
		"objective":  "",
		"assessment": "Viral URI.",
		"plan":       "Fluids, rest.",
	})
	f.gen.Transcript = "patient has had a cough"

	out := f.record(t, "ab", "cd")
	if !out.OK() {
		t.Fatalf("outcome = %+v, want suggestion", out)
	}
	if out.Transcript != "patient has had a cough" {
		t.Errorf("Transcript = %q", out.Transcript)
	}
	if out.Suggestion.Content.Plan != "Fluids, rest." {
		t.Errorf("suggested Plan = %q", out.Suggestion.Content.Plan)
	}

	calls := f.gen.AudioCalls
	if len(calls) != 1 {
		t.Fatalf("audio calls = %d, want 1", len(calls))
	}
	if string(calls[0].Audio.Data) != "abcd" || calls[0].Audio.MIMEType != "audio/webm" {
		t.Errorf("audio = %q (%s)", calls[0].Audio.Data, calls[0].Audio.MIMEType)
	}
	if calls[0].Token != out.Token {
		t.Errorf("request token %d, outcome token %d", calls[0].Token, out.Token)
	}
	if got := f.session.RecorderStatus().State; got != recorder.Complete {
		t.Errorf("recorder state = %v, want complete", got)
	}

	doc, err := f.session.Approve(context.Background(), out.Token, note.Append, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	want := note.Content{
		Subjective: "Prior complaint.\n\nCough for 3 days.",
		Assessment: "Viral URI.",
		Plan:       "Fluids, rest.",
	}
	if doc != want {
		t.Errorf("document = %+v, want %+v", doc, want)
	}
	if f.session.Document() != want {
		t.Error("working copy not updated")
	}

	got := f.sink.all()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Content != want || got[0].NoteID != "note-1" || got[0].SessionID != f.session.ID() {
		t.Errorf("delivery = %+v", got[0])
	}
	if _, ok := f.session.Pending(); ok {
		t.Error("suggestion still pending after approve")
	}
}

func TestSession_ApproveExplicitTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Subjective: "S", Plan: "old plan"})
	f.gen.Raw = generation.StringForm("Subjective: new S\nPlan: new plan")
	out := f.record(t, "x")

	doc, err := f.session.Approve(context.Background(), out.Token, note.Replace, []note.Section{note.Plan})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if doc.Subjective != "S" || doc.Plan != "new plan" {
		t.Errorf("document = %+v", doc)
	}
}

func TestSession_ApproveValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Plan: "keep"})

	if _, err := f.session.Approve(context.Background(), 1, note.Mode("merge"), nil); !errors.Is(err, editor.ErrInvalidMode) {
		t.Errorf("bad mode err = %v", err)
	}
	if _, err := f.session.Approve(context.Background(), 1, note.Append, []note.Section{"history"}); !errors.Is(err, editor.ErrInvalidSection) {
		t.Errorf("bad section err = %v", err)
	}
	doc, err := f.session.Approve(context.Background(), 1, note.Append, nil)
	if !errors.Is(err, suggestion.ErrNoPending) {
		t.Fatalf("no pending err = %v", err)
	}
	if doc.Plan != "keep" {
		t.Errorf("document changed: %+v", doc)
	}
	if len(f.sink.all()) != 0 {
		t.Error("sink called without approval")
	}
}

func TestSession_ApproveRejectsReplacedSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Plan: "existing"})

	f.gen.Raw = generation.StringForm("Plan: reviewed plan")
	reviewed, err := f.session.Ask(context.Background(), note.Plan, "next steps?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reviewed.Suggestion == nil || reviewed.Suggestion.Token != reviewed.Token || reviewed.Suggestion.Content.Plan != "reviewed plan" {
		t.Fatalf("reviewed outcome = %+v", reviewed)
	}

	f.gen.Raw = generation.StringForm("Subjective: never shown to clinician")
	newer, err := f.session.Ask(context.Background(), note.Subjective, "anything else?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reviewed.Suggestion.Content.Plan != "reviewed plan" {
		t.Errorf("earlier outcome changed: %+v", reviewed.Suggestion)
	}

	doc, err := f.session.Approve(context.Background(), reviewed.Token, note.Append, nil)
	if !errors.Is(err, suggestion.ErrStaleSuggestion) {
		t.Fatalf("err = %v, want ErrStaleSuggestion", err)
	}
	if editor.ErrorKind(err) != "stale_suggestion" {
		t.Errorf("ErrorKind = %q", editor.ErrorKind(err))
	}
	if want := (note.Content{Plan: "existing"}); doc != want || f.session.Document() != want {
		t.Errorf("document changed: %+v", doc)
	}
	if n := len(f.sink.all()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
	p, ok := f.session.Pending()
	if !ok || p.Token != newer.Token {
		t.Fatalf("pending = %+v, %v; want token %d", p, ok, newer.Token)
	}

	doc, err = f.session.Approve(context.Background(), newer.Token, note.Append, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if want := (note.Content{Subjective: "never shown to clinician", Plan: "existing"}); doc != want {
		t.Errorf("document = %+v, want %+v", doc, want)
	}
}

func TestSession_DeliveryFailureKeepsMerge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	f.sink.err = errors.New("receiver down")
	f.gen.Raw = generation.StringForm("Plan: rest")
	out := f.record(t, "x")

	doc, err := f.session.Approve(context.Background(), out.Token, note.Append, nil)
	if !errors.Is(err, editor.ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if !editor.Retryable(err) {
		t.Error("delivery failure should be retryable")
	}
	if doc.Plan != "rest" || f.session.Document().Plan != "rest" {
		t.Errorf("merge lost: %+v", doc)
	}
}

func TestSession_GenerationFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	f.gen.Err = generation.NewServiceError(502, "upstream timeout")

	out := f.record(t, "x")
	if out.OK() || out.Stale {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	if out.ErrorKind != "service_error" || !out.Retryable {
		t.Errorf("kind = %q retryable = %v", out.ErrorKind, out.Retryable)
	}
	if got := f.session.RecorderStatus().State; got != recorder.Error {
		t.Errorf("recorder state = %v, want error", got)
	}
	if st := f.session.Status(); st.LastError == "" {
		t.Error("status has no last error")
	}

	// Retrying from the error state acknowledges it implicitly.
	f.gen.Err = nil
	f.gen.Raw = generation.StringForm("Assessment: stable")
	out = f.record(t, "y")
	if !out.OK() || out.Suggestion.Content.Assessment != "stable" {
		t.Errorf("retry outcome = %+v", out)
	}
}

func TestSession_NormalizeFailureKeepsPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	f.gen.Raw = generation.StringForm("Plan: first")
	first := f.record(t, "x")
	if !first.OK() {
		t.Fatalf("first outcome = %+v", first)
	}

	f.gen.Raw = generation.ObjectForm(map[string]string{"summary": "nothing usable"})
	out, err := f.session.Ask(context.Background(), note.Plan, "anything else?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out.ErrorKind != "parse_error" || !out.Retryable {
		t.Errorf("outcome = %+v, want retryable parse_error", out)
	}
	p, ok := f.session.Pending()
	if !ok || p.Content.Plan != "first" {
		t.Errorf("pending = %+v, %v; want the earlier suggestion", p, ok)
	}
}

func TestSession_DeviceLost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	f.source.Acquired[0].Fail(audio.ErrDeviceUnavailable)
	waitFor(t, func() bool { return f.session.RecorderStatus().State == recorder.Error })

	out, err := f.session.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if out.ErrorKind != "device_unavailable" || !out.Retryable {
		t.Errorf("outcome = %+v", out)
	}
	if n := len(f.gen.AudioCalls); n != 0 {
		t.Errorf("generation called %d times after device loss", n)
	}
}

func TestSession_PermissionDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	f.source.AcquireErr = audio.ErrPermissionDenied

	err := f.session.StartRecording(context.Background())
	var recErr *recorder.RecordingError
	if !errors.As(err, &recErr) || recErr.Kind != recorder.PermissionDenied {
		t.Fatalf("err = %v, want permission denied", err)
	}
	if !editor.Retryable(err) || editor.ErrorKind(err) != "permission_denied" {
		t.Errorf("kind = %q retryable = %v", editor.ErrorKind(err), editor.Retryable(err))
	}
	if got := f.session.RecorderStatus().State; got != recorder.Idle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestSession_StopWithoutRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	if _, err := f.session.StopRecording(context.Background()); !errors.Is(err, recorder.ErrNotRecording) {
		t.Errorf("err = %v, want ErrNotRecording", err)
	}
}

func TestSession_AskSendsSectionContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Plan: "<p>Start <b>amoxicillin</b></p><p>Review in 1 week</p>"})
	f.gen.Raw = generation.StringForm("Plan: add ibuprofen")

	out, err := f.session.Ask(context.Background(), note.Plan, "  add pain relief  ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}
	if len(f.gen.TextCalls) != 1 {
		t.Fatalf("text calls = %d", len(f.gen.TextCalls))
	}
	req := f.gen.TextCalls[0]
	if req.Query != "add pain relief" {
		t.Errorf("Query = %q", req.Query)
	}
	want := generation.Context{
		TargetSection:       note.Plan,
		ExistingSectionText: "Start amoxicillin\nReview in 1 week",
		AppointmentType:     "follow-up",
		ReasonForVisit:      "cough",
	}
	if req.Context != want {
		t.Errorf("Context = %+v, want %+v", req.Context, want)
	}
}

func TestSession_AskValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	tests := []struct {
		name    string
		section note.Section
		query   string
		want    error
	}{
		{name: "unknown section", section: "history", query: "q", want: editor.ErrInvalidSection},
		{name: "blank query", section: note.Plan, query: "  ", want: editor.ErrEmptyQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.session.Ask(context.Background(), tt.section, tt.query); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(f.gen.TextCalls) != 0 {
		t.Error("generator called for invalid request")
	}
}

// A recording submitted before a text query finishes after it: the
// recording's result is stale and the query's result stays pending.
func TestSession_LastRequestStartedWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	release := make(chan struct{})
	f.gen.AudioFunc = func(_ context.Context, req generation.AudioRequest) (*generation.Response, error) {
		<-release
		return &generation.Response{Token: req.Token, Raw: generation.StringForm("Plan: from audio")}, nil
	}
	f.gen.TextFunc = func(_ context.Context, req generation.TextRequest) (*generation.Response, error) {
		return &generation.Response{Token: req.Token, Raw: generation.StringForm("Plan: from query")}, nil
	}

	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	audioDone := make(chan editor.Outcome, 1)
	go func() {
		out, _ := f.session.StopRecording(context.Background())
		audioDone <- out
	}()
	waitFor(t, func() bool {
		audioCalls, _ := f.gen.Calls()
		return audioCalls == 1
	})

	textOut, err := f.session.Ask(context.Background(), note.Plan, "what next?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !textOut.OK() {
		t.Fatalf("text outcome = %+v", textOut)
	}

	close(release)
	audioOut := <-audioDone
	if !audioOut.Stale {
		t.Errorf("audio outcome = %+v, want stale", audioOut)
	}
	if audioOut.Token >= textOut.Token {
		t.Errorf("audio token %d should precede text token %d", audioOut.Token, textOut.Token)
	}
	p, ok := f.session.Pending()
	if !ok || p.Content.Plan != "from query" {
		t.Errorf("pending = %+v, %v; want the query result", p, ok)
	}
}

func TestSession_Discard(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Plan: "keep"})
	f.gen.Raw = generation.StringForm("Plan: drop me")
	f.record(t, "x")

	if err := f.session.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := f.session.Discard(); !errors.Is(err, suggestion.ErrNoPending) {
		t.Errorf("second Discard err = %v", err)
	}
	if f.session.Document().Plan != "keep" {
		t.Error("discard changed the document")
	}
	st := f.session.Status()
	if st.Suggestion == nil || st.Suggestion.Status != suggestion.Discarded {
		t.Errorf("status suggestion = %+v", st.Suggestion)
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{})
	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.source.Acquired[0].Released() {
		t.Error("microphone not released on close")
	}
	if err := f.session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := f.session.StartRecording(context.Background()); !errors.Is(err, editor.ErrClosed) {
		t.Errorf("StartRecording after close err = %v", err)
	}
	if _, err := f.session.Ask(context.Background(), note.Plan, "q"); !errors.Is(err, editor.ErrClosed) {
		t.Errorf("Ask after close err = %v", err)
	}
}

func TestSession_InsertTemplate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, note.Content{Subjective: "<p>Cough</p>"})
	tpl := note.Content{Subjective: "<p>Onset:</p>", Plan: "<p>Follow up</p>"}

	doc, err := f.session.Insert(tpl, note.Append, nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	want := note.Content{
		Subjective: "<p>Cough</p>" + note.ParagraphSeparator + "<p>Onset:</p>",
		Plan:       "<p>Follow up</p>",
	}
	if doc != want {
		t.Errorf("doc = %+v, want %+v", doc, want)
	}
	if len(f.sink.all()) != 0 {
		t.Error("Insert must not deliver")
	}

	doc, err = f.session.Insert(tpl, note.Replace, []note.Section{note.Subjective})
	if err != nil {
		t.Fatalf("Insert replace: %v", err)
	}
	if doc.Subjective != "<p>Onset:</p>" || doc.Plan != "<p>Follow up</p>" {
		t.Errorf("doc = %+v", doc)
	}

	if _, err := f.session.Insert(tpl, note.Mode("merge"), nil); !errors.Is(err, editor.ErrInvalidMode) {
		t.Errorf("invalid mode err = %v", err)
	}
}
