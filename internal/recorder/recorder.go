// Package recorder owns the audio-capture lifecycle of one editing session.
//
// A [Recorder] is a small state machine:
//
//	Idle → Recording → Processing → Complete → Idle
//	                              ↘ Error    → Idle
//
// Start acquires the microphone and begins collecting chunks. Stop releases
// the microphone, assembles the chunks into one [generation.AudioUnit] and
// passes it to the configured [Handler]; the handler's outcome selects
// Complete or Error. Acknowledge returns a finished recorder to Idle.
//
// The microphone is released on every exit path: Stop, device loss, a failed
// start and Close. No audio is kept once a recording has been handed off.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

const defaultTickInterval = time.Second

// Lifecycle errors.
var (
	// ErrAlreadyRecording is returned by Start while a recording is in
	// progress or being acquired. The call has no effect.
	ErrAlreadyRecording = errors.New("recorder: already recording")

	// ErrNotIdle is returned by Start while a previous recording is still
	// processing or awaiting acknowledgement.
	ErrNotIdle = errors.New("recorder: previous recording not acknowledged")

	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("recorder: not recording")

	// ErrBusy is returned by Acknowledge while recording or processing.
	ErrBusy = errors.New("recorder: recording in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recorder: closed")
)

// State is a recorder lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Processing
	Complete
	Error
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handler receives each finished recording. A non-nil error moves the
// recorder to Error; nil moves it to Complete.
type Handler func(ctx context.Context, unit generation.AudioUnit) error

// Status is a point-in-time snapshot of a Recorder.
type Status struct {
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Chunks         int       `json:"chunks"`
	Bytes          int       `json:"bytes"`
	Error          string    `json:"error,omitempty"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTickInterval sets how often ElapsedSeconds is refreshed. Default: 1s.
func WithTickInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithOnChange registers a callback invoked after every state transition.
// It runs outside the recorder lock and must not block.
func WithOnChange(fn func(Status)) Option {
	return func(r *Recorder) {
		r.onChange = fn
	}
}

// Recorder is one editing session's audio recorder. It is safe for
// concurrent use, though callers normally drive it from one place.
type Recorder struct {
	source   audio.Source
	handler  Handler
	tick     time.Duration
	now      func() time.Time
	onChange func(Status)

	mu        sync.Mutex
	state     State
	acquiring bool
	closed    bool
	gen       uint64
	startedAt time.Time
	elapsed   int
	chunks    [][]byte
	bytes     int
	mic       audio.Microphone
	stopTick  chan struct{}
	collected chan struct{}
	lastErr   error
}

// New returns an idle Recorder that captures from source and hands finished
// recordings to handler.
func New(source audio.Source, handler Handler, opts ...Option) *Recorder {
	r := &Recorder{
		source:  source,
		handler: handler,
		tick:    defaultTickInterval,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires the microphone and begins recording. It is valid only from
// Idle. Acquisition failures are returned as a [*RecordingError] and leave
// the recorder Idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrClosed
	case r.state == Recording || r.acquiring:
		r.mu.Unlock()
		return ErrAlreadyRecording
	case r.state != Idle:
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.acquiring = true
	r.mu.Unlock()

	mic, err := r.source.Acquire(ctx)

	r.mu.Lock()
	r.acquiring = false
	if err != nil {
		r.mu.Unlock()
		return newRecordingError(err)
	}
	if r.closed {
		r.mu.Unlock()
		_ = mic.Release()
		return ErrClosed
	}

	r.gen++
	r.state = Recording
	r.startedAt = r.now()
	r.elapsed = 0
	r.chunks = nil
	r.bytes = 0
	r.lastErr = nil
	r.mic = mic
	r.stopTick = make(chan struct{})
	r.collected = make(chan struct{})

	go r.tickLoop(r.gen, r.stopTick)
	go r.collect(r.gen, mic, r.collected)
	st := r.statusLocked()
	r.mu.Unlock()

	r.notify(st)
	return nil
}

// Stop ends the recording, releases the microphone and hands the assembled
// audio to the handler. It blocks until the handler returns and reports the
// handler's error. Zero-length recordings are submitted like any other.
//
// When the device was lost mid-recording, Stop returns that error.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Recording {
		err := ErrNotRecording
		if r.state == Error && r.lastErr != nil {
			err = r.lastErr
		}
		r.mu.Unlock()
		return err
	}
	r.state = Processing
	close(r.stopTick)
	mic, collected := r.mic, r.collected
	st := r.statusLocked()
	r.mu.Unlock()
	r.notify(st)

	_ = mic.Release()
	<-collected

	r.mu.Lock()
	unit := generation.AudioUnit{
		Data:     concat(r.chunks),
		MIMEType: mic.MIMEType(),
		Duration: r.now().Sub(r.startedAt),
		Chunks:   len(r.chunks),
	}
	r.chunks = nil
	r.mic = nil
	gen := r.gen
	r.mu.Unlock()

	err := r.handler(ctx, unit)

	r.mu.Lock()
	if r.gen != gen || r.closed {
		r.mu.Unlock()
		return err
	}
	if err != nil {
		r.state = Error
		r.lastErr = err
	} else {
		r.state = Complete
	}
	st = r.statusLocked()
	r.mu.Unlock()
	r.notify(st)
	return err
}

// Acknowledge returns a Complete or Error recorder to Idle. It is a no-op
// when already Idle.
func (r *Recorder) Acknowledge() error {
	r.mu.Lock()
	switch r.state {
	case Idle:
		r.mu.Unlock()
		return nil
	case Recording, Processing:
		r.mu.Unlock()
		return ErrBusy
	}
	r.state = Idle
	r.elapsed = 0
	r.lastErr = nil
	st := r.statusLocked()
	r.mu.Unlock()
	r.notify(st)
	return nil
}

// Close releases the microphone from any state and makes the recorder
// unusable. A Stop that is already processing still completes its handler
// call. Close is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	mic := r.mic
	r.mic = nil
	if r.state == Recording {
		close(r.stopTick)
	}
	r.gen++
	r.state = Idle
	r.chunks = nil
	r.bytes = 0
	r.mu.Unlock()

	if mic != nil {
		return mic.Release()
	}
	return nil
}

// Status returns a snapshot of the recorder.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// LastError returns the error that moved the recorder to Error, if any.
func (r *Recorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Recorder) statusLocked() Status {
	st := Status{
		State:          r.state,
		ElapsedSeconds: r.elapsed,
		Chunks:         len(r.chunks),
		Bytes:          r.bytes,
	}
	if r.state != Idle {
		st.StartedAt = r.startedAt
	}
	if r.lastErr != nil {
		st.Error = r.lastErr.Error()
	}
	return st
}

func (r *Recorder) notify(st Status) {
	if r.onChange != nil {
		r.onChange(st)
	}
}

// tickLoop refreshes the elapsed counter until stop is closed.
func (r *Recorder) tickLoop(gen uint64, stop <-chan struct{}) {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			r.mu.Lock()
			if r.gen == gen && r.state == Recording {
				r.elapsed = int(r.now().Sub(r.startedAt) / time.Second)
			}
			r.mu.Unlock()
		}
	}
}

// collect appends chunks until the microphone stream ends. If it ends while
// still Recording, the device was lost.
func (r *Recorder) collect(gen uint64, mic audio.Microphone, done chan<- struct{}) {
	defer close(done)
	for c := range mic.Chunks() {
		r.mu.Lock()
		if r.gen == gen {
			r.chunks = append(r.chunks, c)
			r.bytes += len(c)
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	if r.gen != gen || r.state != Recording {
		r.mu.Unlock()
		return
	}
	cause := mic.Err()
	if cause == nil {
		cause = audio.ErrDeviceUnavailable
	}
	r.state = Error
	r.lastErr = &RecordingError{Kind: DeviceUnavailable, Err: cause}
	close(r.stopTick)
	r.chunks = nil
	r.bytes = 0
	r.mic = nil
	st := r.statusLocked()
	r.mu.Unlock()

	_ = mic.Release()
	slog.Warn("recorder: capture device lost", "err", cause)
	r.notify(st)
}

func concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// ErrorKind classifies a capture failure.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	DeviceUnavailable
)

// String returns the snake_case kind name.
func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceUnavailable:
		return "device_unavailable"
	default:
		return "unknown"
	}
}

// RecordingError reports a failure to acquire or keep the microphone.
// It unwraps to the underlying audio error, so
// errors.Is(err, audio.ErrPermissionDenied) works.
type RecordingError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecordingError) Error() string {
	return fmt.Sprintf("recorder: %s: %v", e.Kind, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }

func newRecordingError(err error) *RecordingError {
	kind := DeviceUnavailable
	if errors.Is(err, audio.ErrPermissionDenied) {
		kind = PermissionDenied
	}
	return &RecordingError{Kind: kind, Err: err}
}
