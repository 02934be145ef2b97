// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// A provider receives one finished recording (an opaque audio blob in
// whatever container the browser produced) and returns a single transcript.
// Streaming recognition is not needed: the recorder submits audio only after
// the clinician stops dictating.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request is a single transcription request.
type Request struct {
	// Audio is the recording payload. It may be empty, in which case
	// providers return an empty transcript rather than an error when the
	// backend allows it.
	Audio []byte

	// MIMEType describes the audio container, e.g. "audio/webm".
	MIMEType string

	// Language is a BCP-47 language hint. Empty uses the provider default.
	Language string

	// Keywords are vocabulary hints such as drug names that increase
	// recognition probability on providers that support boosting.
	Keywords []string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or configured language.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report it.
	Confidence float64

	// Duration is the audio length reported by the provider.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts a finished recording into text.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// FileExtension maps an audio MIME type to a file extension for multipart
// uploads. Unknown types map to ".bin".
func FileExtension(mimeType string) string {
	switch {
	case hasPrefix(mimeType, "audio/webm"):
		return ".webm"
	case hasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case hasPrefix(mimeType, "audio/wav"), hasPrefix(mimeType, "audio/x-wav"):
		return ".wav"
	case hasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case hasPrefix(mimeType, "audio/mp4"):
		return ".m4a"
	default:
		return ".bin"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
