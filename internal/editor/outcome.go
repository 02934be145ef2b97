package editor

import (
	"errors"

	"github.com/MrWong99/scribe/internal/normalize"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/internal/suggestion"
	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// Outcome reports what became of one generation request.
//
// Exactly one of Suggestion, Stale or Err is set. A stale outcome means a
// newer request was started before this one finished; its result was
// dropped and the UI should keep waiting for the newer one.
type Outcome struct {
	Token      generation.Token       `json:"token"`
	Suggestion *suggestion.Suggestion `json:"suggestion,omitempty"`
	Transcript string                 `json:"transcript,omitempty"`
	Stale      bool                   `json:"stale,omitempty"`

	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// OK reports whether the outcome carries a fresh suggestion.
func (o Outcome) OK() bool { return o.Suggestion != nil }

func failure(token generation.Token, err error) Outcome {
	return Outcome{
		Token:     token,
		Err:       err,
		Error:     err.Error(),
		ErrorKind: ErrorKind(err),
		Retryable: Retryable(err),
	}
}

// ErrorKind returns a stable snake_case label for err.
func ErrorKind(err error) string {
	var (
		recErr *recorder.RecordingError
		genErr *generation.Error
		parse  *normalize.ParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &recErr):
		return recErr.Kind.String()
	case errors.As(err, &genErr):
		return genErr.Kind.String()
	case errors.As(err, &parse):
		return "parse_error"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return generation.NetworkFailure.String()
	case errors.Is(err, template.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, suggestion.ErrNoPending):
		return "no_pending"
	case errors.Is(err, suggestion.ErrStaleSuggestion):
		return "stale_suggestion"
	case errors.Is(err, ErrDelivery):
		return "delivery_failed"
	default:
		return "internal"
	}
}

// Retryable reports whether the user can recover from err by trying again.
// Recording, generation, parse and version-conflict failures are all
// retryable; programming errors are not.
func Retryable(err error) bool {
	var (
		recErr *recorder.RecordingError
		genErr *generation.Error
		parse  *normalize.ParseError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &recErr), errors.As(err, &genErr), errors.As(err, &parse):
		return true
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, template.ErrVersionConflict),
		errors.Is(err, ErrDelivery):
		return true
	default:
		return false
	}
}
