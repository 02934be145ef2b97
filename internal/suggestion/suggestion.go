// Package suggestion tracks the single pending AI suggestion of an editing
// session.
//
// Every generation request is issued a token by [Tracker.Begin]. Only the
// result of the most recently issued token is kept: results for superseded
// tokens are dropped when they arrive, whatever order they resolve in. A
// kept result replaces any unconfirmed earlier suggestion. Nothing is ever
// applied to the note without an explicit [Tracker.Approve].
package suggestion

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// ErrNoPending is returned by Approve and Discard when no suggestion is
// pending.
var ErrNoPending = errors.New("suggestion: no pending suggestion")

// ErrStaleSuggestion is returned by Approve when the pending suggestion is
// not the one the caller reviewed.
var ErrStaleSuggestion = errors.New("suggestion: pending suggestion was replaced")

// Status is the lifecycle status of a Suggestion.
type Status int

const (
	Pending Status = iota + 1
	Approved
	Discarded
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Suggestion is an AI-proposed note awaiting the clinician's decision.
type Suggestion struct {
	Content note.Content     `json:"content"`
	Status  Status           `json:"status"`
	Token   generation.Token `json:"token"`
}

// Tracker holds at most one pending Suggestion and the request-token
// sequence that decides which results are current. It is safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	issued  generation.Token
	current *Suggestion
	lastErr error
	onStale func(generation.Token)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStaleHook registers fn to be called for every discarded stale result.
func WithStaleHook(fn func(generation.Token)) Option {
	return func(t *Tracker) {
		t.onStale = fn
	}
}

// NewTracker returns an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Begin issues the token for a new generation request. Tokens increase
// strictly; issuing one supersedes every earlier in-flight request.
func (t *Tracker) Begin() generation.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued++
	t.lastErr = nil
	return t.issued
}

// Latest returns the most recently issued token, or zero.
func (t *Tracker) Latest() generation.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issued
}

// Resolve records content as the pending suggestion if token is still the
// latest issued token. It reports whether the result was kept.
func (t *Tracker) Resolve(token generation.Token, content note.Content) bool {
	t.mu.Lock()
	if token != t.issued {
		t.mu.Unlock()
		t.stale(token)
		return false
	}
	t.current = &Suggestion{Content: content, Status: Pending, Token: token}
	t.lastErr = nil
	t.mu.Unlock()
	return true
}

// Fail records err as the outcome of token if it is still the latest
// issued token. The pending suggestion, if any, is left untouched. It
// reports whether the failure was recorded.
func (t *Tracker) Fail(token generation.Token, err error) bool {
	t.mu.Lock()
	if token != t.issued {
		t.mu.Unlock()
		t.stale(token)
		return false
	}
	t.lastErr = err
	t.mu.Unlock()
	return true
}

func (t *Tracker) stale(token generation.Token) {
	slog.Debug("suggestion: discarding stale result", "token", token)
	if t.onStale != nil {
		t.onStale(token)
	}
}

// Pending returns the pending suggestion, if any.
func (t *Tracker) Pending() (Suggestion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Status != Pending {
		return Suggestion{}, false
	}
	return *t.current, true
}

// Current returns the most recent suggestion whatever its status.
func (t *Tracker) Current() (Suggestion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Suggestion{}, false
	}
	return *t.current, true
}

// LastError returns the failure recorded for the latest token, if any.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Approve merges the pending suggestion into existing and marks it
// approved. token must name the pending suggestion; a newer result that
// replaced it yields ErrStaleSuggestion and leaves it pending. An empty
// targets list merges the sections the suggestion fills.
//
// Approving with nothing pending is a caller bug: it is logged at error
// level and returns ErrNoPending with existing unchanged.
func (t *Tracker) Approve(token generation.Token, existing note.Content, mode note.Mode, targets []note.Section) (note.Content, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Status != Pending {
		slog.Error("suggestion: approve without a pending suggestion", "latest_token", t.issued)
		return existing, ErrNoPending
	}
	if token != t.current.Token {
		slog.Warn("suggestion: approve of a replaced suggestion", "token", token, "pending_token", t.current.Token)
		return existing, fmt.Errorf("%w: approved %d, pending %d", ErrStaleSuggestion, token, t.current.Token)
	}
	if len(targets) == 0 {
		targets = t.current.Content.Filled()
	}
	merged := note.Merge(existing, t.current.Content, mode, targets)
	t.current.Status = Approved
	return merged, nil
}

// Discard drops the pending suggestion.
func (t *Tracker) Discard() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Status != Pending {
		return ErrNoPending
	}
	t.current.Status = Discarded
	return nil
}
