package audio

import (
	"context"
	"errors"
)

// Capture failures reported by [Source.Acquire] and [Microphone.Err].
var (
	// ErrPermissionDenied means the user or the browser refused microphone
	// access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable means no capture device could be opened, or the
	// device disappeared while recording.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// Source hands out exclusive access to one capture device.
type Source interface {
	// Acquire opens the device and starts capturing. It blocks until capture
	// has started, the device refuses, or ctx is done. The returned
	// Microphone must be released by the caller.
	Acquire(ctx context.Context) (Microphone, error)
}

// Microphone is an acquired capture device. All methods are safe for
// concurrent use.
type Microphone interface {
	// Chunks delivers captured audio in order. The channel is closed when
	// capture ends, either after Release has flushed the final chunk or
	// because the device was lost.
	Chunks() <-chan []byte

	// MIMEType describes the container of the chunk stream, e.g.
	// "audio/webm;codecs=opus". Chunks are opaque fragments of one stream and
	// are only playable once concatenated.
	MIMEType() string

	// Err reports why Chunks was closed. It returns nil while capturing and
	// after a normal Release, and an error wrapping ErrDeviceUnavailable when
	// the device was lost.
	Err() error

	// Release stops capture, flushes pending chunks and frees the device.
	// It is idempotent.
	Release() error
}
