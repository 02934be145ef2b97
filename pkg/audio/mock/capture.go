package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribe/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Mic is returned by Acquire. If nil, Acquire returns a fresh Microphone.
	Mic *Microphone

	// AcquireErr, if non-nil, is returned by Acquire.
	AcquireErr error

	// Acquired records every Microphone handed out, in order.
	Acquired []*Microphone
}

// Acquire implements [audio.Source].
func (s *Source) Acquire(ctx context.Context) (audio.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AcquireErr != nil {
		return nil, s.AcquireErr
	}
	m := s.Mic
	if m == nil {
		m = NewMicrophone()
	}
	s.Acquired = append(s.Acquired, m)
	return m, nil
}

// AcquireCount returns the number of successful Acquire calls.
func (s *Source) AcquireCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Acquired)
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Tests feed
// audio with Push and simulate device loss with Fail.
type Microphone struct {
	mu       sync.Mutex
	ch       chan []byte
	closed   bool
	err      error
	releases int

	// Type is returned by MIMEType.
	Type string
}

// NewMicrophone returns a Microphone with a buffered chunk channel.
func NewMicrophone() *Microphone {
	return &Microphone{ch: make(chan []byte, 64), Type: "audio/webm"}
}

// Push delivers a chunk. It is a no-op after the stream has ended.
func (m *Microphone) Push(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.ch <- chunk
}

// Fail ends the stream as if the device had disappeared.
func (m *Microphone) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.err = err
	m.closed = true
	close(m.ch)
}

// Chunks implements [audio.Microphone].
func (m *Microphone) Chunks() <-chan []byte { return m.ch }

// MIMEType implements [audio.Microphone].
func (m *Microphone) MIMEType() string { return m.Type }

// Err implements [audio.Microphone].
func (m *Microphone) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Release implements [audio.Microphone].
func (m *Microphone) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}

// Released reports whether Release has been called at least once.
func (m *Microphone) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases > 0
}

var (
	_ audio.Source     = (*Source)(nil)
	_ audio.Microphone = (*Microphone)(nil)
)
