// Package wsmic bridges a browser microphone to an [audio.Source] over a
// WebSocket.
//
// The browser opens a WebSocket to the editor session's audio endpoint when
// the clinician presses record. The server side of the protocol is:
//
//	server → {"type":"start"}
//	browser → {"type":"started","mime_type":"audio/webm;codecs=opus"}
//	        | {"type":"error","error":"permission_denied"|"device_unavailable"}
//	browser → binary frames, one per MediaRecorder dataavailable event
//	server → {"type":"stop"}
//	browser → remaining binary frames, then {"type":"stopped"}
//
// One WebSocket carries exactly one recording. Closing the socket while
// capturing is reported as device loss.
package wsmic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribe/pkg/audio"
)

const (
	defaultAcquireTimeout = 10 * time.Second
	defaultFlushTimeout   = 3 * time.Second
	defaultReadLimit      = 4 << 20
	chunkBuffer           = 256
)

// ErrBusy is returned by Acquire when another acquisition for the same
// session is already waiting.
var ErrBusy = errors.New("wsmic: session already has a pending acquisition")

// control is the JSON shape of text frames in both directions.
type control struct {
	Type     string `json:"type"`
	MIMEType string `json:"mime_type,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithAcquireTimeout bounds how long Acquire waits for the browser to
// connect and confirm capture. Default: 10s.
func WithAcquireTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.acquireTimeout = d
	}
}

// WithFlushTimeout bounds how long Release waits for the final chunks.
// Default: 3s.
func WithFlushTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.flushTimeout = d
	}
}

// WithOriginPatterns sets the allowed browser origins (see
// websocket.AcceptOptions.OriginPatterns).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// Hub pairs incoming browser WebSockets with pending Acquire calls by
// session ID. It is safe for concurrent use.
type Hub struct {
	acquireTimeout time.Duration
	flushTimeout   time.Duration
	originPatterns []string

	mu      sync.Mutex
	waiters map[string]chan *handoff
	pending map[string]*handoff
}

// handoff is one accepted browser connection waiting to be claimed.
type handoff struct {
	conn    *websocket.Conn
	claimed chan struct{}
	done    chan struct{}
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		acquireTimeout: defaultAcquireTimeout,
		flushTimeout:   defaultFlushTimeout,
		waiters:        make(map[string]chan *handoff),
		pending:        make(map[string]*handoff),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Accept upgrades r to a WebSocket for sessionID and blocks until the
// recording carried by it has finished, or until the connection is not
// claimed within the acquire timeout.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		return fmt.Errorf("wsmic: accept: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	ho := &handoff{
		conn:    conn,
		claimed: make(chan struct{}),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if ch, ok := h.waiters[sessionID]; ok {
		delete(h.waiters, sessionID)
		ch <- ho
	} else {
		if old, ok := h.pending[sessionID]; ok {
			old.conn.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
		}
		h.pending[sessionID] = ho
	}
	h.mu.Unlock()

	timer := time.NewTimer(h.acquireTimeout)
	defer timer.Stop()
	select {
	case <-ho.claimed:
	case <-timer.C:
		h.mu.Lock()
		if h.pending[sessionID] == ho {
			delete(h.pending, sessionID)
			h.mu.Unlock()
			conn.Close(websocket.StatusPolicyViolation, "no recording was started")
			return nil
		}
		h.mu.Unlock()
		<-ho.claimed
	}

	<-ho.done
	return nil
}

// Source returns an [audio.Source] that acquires the browser microphone of
// sessionID.
func (h *Hub) Source(sessionID string) audio.Source {
	return &source{hub: h, sessionID: sessionID}
}

// claim takes a pending connection or waits for one to arrive.
func (h *Hub) claim(ctx context.Context, sessionID string) (*handoff, error) {
	h.mu.Lock()
	if ho, ok := h.pending[sessionID]; ok {
		delete(h.pending, sessionID)
		h.mu.Unlock()
		close(ho.claimed)
		return ho, nil
	}
	if _, ok := h.waiters[sessionID]; ok {
		h.mu.Unlock()
		return nil, ErrBusy
	}
	ch := make(chan *handoff, 1)
	h.waiters[sessionID] = ch
	h.mu.Unlock()

	timer := time.NewTimer(h.acquireTimeout)
	defer timer.Stop()

	select {
	case ho := <-ch:
		close(ho.claimed)
		return ho, nil
	case <-ctx.Done():
	case <-timer.C:
	}

	h.mu.Lock()
	if h.waiters[sessionID] == ch {
		delete(h.waiters, sessionID)
	}
	h.mu.Unlock()

	// A connection may have been delivered between the timeout and removal.
	select {
	case ho := <-ch:
		close(ho.claimed)
		return ho, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("wsmic: browser did not connect: %w", audio.ErrDeviceUnavailable)
}

type source struct {
	hub       *Hub
	sessionID string
}

// Acquire implements [audio.Source].
func (s *source) Acquire(ctx context.Context) (audio.Microphone, error) {
	ho, err := s.hub.claim(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m := &mic{
		conn:         ho.conn,
		handoff:      ho,
		chunks:       make(chan []byte, chunkBuffer),
		started:      make(chan struct{}),
		done:         make(chan struct{}),
		cancel:       cancel,
		flushTimeout: s.hub.flushTimeout,
	}
	go m.readLoop(loopCtx)

	if err := m.send(ctx, control{Type: "start"}); err != nil {
		m.Release()
		return nil, fmt.Errorf("wsmic: send start: %w", audio.ErrDeviceUnavailable)
	}

	timer := time.NewTimer(s.hub.acquireTimeout)
	defer timer.Stop()

	select {
	case <-m.started:
		return m, nil
	case <-m.done:
		select {
		case <-m.started:
			// Capture started and ended before we observed it; the caller
			// sees the loss through Err.
			return m, nil
		default:
		}
		err := m.Err()
		m.Release()
		if err == nil {
			err = audio.ErrDeviceUnavailable
		}
		return nil, err
	case <-ctx.Done():
		m.Release()
		return nil, ctx.Err()
	case <-timer.C:
		m.Release()
		return nil, fmt.Errorf("wsmic: capture did not start: %w", audio.ErrDeviceUnavailable)
	}
}

// mic is one browser recording.
type mic struct {
	conn         *websocket.Conn
	handoff      *handoff
	chunks       chan []byte
	started      chan struct{}
	done         chan struct{}
	cancel       context.CancelFunc
	flushTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	mimeType string
	err      error
	released bool

	startOnce   sync.Once
	releaseOnce sync.Once
}

func (m *mic) Chunks() <-chan []byte { return m.chunks }

func (m *mic) MIMEType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mimeType
}

func (m *mic) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mic) send(ctx context.Context, c control) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.Write(ctx, websocket.MessageText, data)
}

func (m *mic) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.released && m.err == nil {
		m.err = err
	}
}

func (m *mic) readLoop(ctx context.Context) {
	defer close(m.done)
	defer close(m.chunks)

	for {
		typ, data, err := m.conn.Read(ctx)
		if err != nil {
			m.fail(fmt.Errorf("wsmic: connection lost: %w", audio.ErrDeviceUnavailable))
			return
		}
		switch typ {
		case websocket.MessageBinary:
			select {
			case m.chunks <- data:
			case <-ctx.Done():
				return
			}
		case websocket.MessageText:
			var c control
			if err := json.Unmarshal(data, &c); err != nil {
				slog.Warn("wsmic: ignoring malformed control message", "err", err)
				continue
			}
			switch c.Type {
			case "started":
				m.mu.Lock()
				m.mimeType = c.MIMEType
				m.mu.Unlock()
				m.startOnce.Do(func() { close(m.started) })
			case "error":
				m.fail(captureError(c.Error))
				return
			case "stopped":
				return
			}
		}
	}
}

// captureError maps a browser error code to an audio sentinel.
func captureError(code string) error {
	switch code {
	case "permission_denied", "NotAllowedError", "SecurityError":
		return fmt.Errorf("wsmic: browser refused: %w", audio.ErrPermissionDenied)
	default:
		return fmt.Errorf("wsmic: browser reported %q: %w", code, audio.ErrDeviceUnavailable)
	}
}

// Release implements [audio.Microphone]. It asks the browser to stop, waits
// up to the flush timeout for the final chunks and closes the socket.
func (m *mic) Release() error {
	m.releaseOnce.Do(func() {
		m.mu.Lock()
		m.released = true
		m.mu.Unlock()

		select {
		case <-m.done:
		default:
			ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
			if err := m.send(ctx, control{Type: "stop"}); err == nil {
				select {
				case <-m.done:
				case <-ctx.Done():
				}
			}
			cancel()
		}

		m.cancel()
		m.conn.Close(websocket.StatusNormalClosure, "recording finished")
		close(m.handoff.done)
	})
	return nil
}

var _ audio.Microphone = (*mic)(nil)
