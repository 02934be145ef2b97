// Package generation defines the contract for the external speech-to-text and
// narrative-summarisation service that turns a clinician's dictation or
// freeform question into a draft SOAP note.
//
// Two call shapes share one contract: an audio call submitting a finished
// recording, and a text call submitting a query plus note and patient context.
// Both return a [Response] whose Raw payload is a loosely-typed
// [RawResponse]; turning that into a structured note is the caller's job.
//
// Every request carries a caller-assigned, monotonically increasing token
// that is echoed on the Response. Callers use it to discard results of
// superseded requests. Implementations never abort in-flight work on their
// own account.
//
// Implementations must be safe for concurrent use.
package generation

import (
	"context"
	"time"

	"github.com/MrWong99/scribe/pkg/note"
)

// Token identifies one generation request within an editing session. Tokens
// increase monotonically; a larger token always denotes a later request.
type Token uint64

// AudioUnit is a finished recording: the ordered concatenation of every
// captured chunk. The payload is opaque; codec handling is left to the
// service.
type AudioUnit struct {
	// Data is the concatenated audio payload. It may be empty.
	Data []byte

	// MIMEType describes the container, e.g. "audio/webm". Empty means
	// "application/octet-stream".
	MIMEType string

	// Duration is the wall-clock length of the recording.
	Duration time.Duration

	// Chunks is the number of capture chunks that were assembled.
	Chunks int
}

// AudioRequest submits a recording for transcription and summarisation.
type AudioRequest struct {
	Token Token
	Audio AudioUnit
}

// Context carries note and patient context for a text request.
type Context struct {
	// TargetSection is the section the answer is meant for.
	TargetSection note.Section `json:"target_section"`

	// ExistingSectionText is the current content of TargetSection, as plain text.
	ExistingSectionText string `json:"existing_section_text"`

	AppointmentType string `json:"appointment_type,omitempty"`
	ReasonForVisit  string `json:"reason_for_visit,omitempty"`
}

// TextRequest submits a freeform query for one section.
type TextRequest struct {
	Token   Token
	Query   string
	Context Context
}

// Metadata is optional information the service may attach to a response.
type Metadata struct {
	Duration time.Duration
	Language string
}

// Response is a successful generation result.
type Response struct {
	// Token echoes the request token.
	Token Token

	// Transcript is the raw transcription for audio requests, when returned.
	Transcript string

	// Raw is the loosely-typed summarisation payload.
	Raw RawResponse

	Metadata Metadata
}

// Provider is the abstraction over any generation backend.
//
// Failures are always reported as [*Error].
type Provider interface {
	// GenerateFromAudio transcribes and summarises a recording.
	GenerateFromAudio(ctx context.Context, req AudioRequest) (*Response, error)

	// GenerateFromText answers a freeform query in the context of one section.
	GenerateFromText(ctx context.Context, req TextRequest) (*Response, error)
}
