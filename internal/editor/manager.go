package editor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("editor: session not found")

// ManagerConfig holds the dependencies shared by every session of a
// [Manager].
type ManagerConfig struct {
	Generator generation.Provider

	// SourceFor returns the microphone source of a session.
	SourceFor func(sessionID string) audio.Source

	Sink            DocumentSink
	Metrics         *observe.Metrics
	RecorderOptions []recorder.Option
}

// OpenRequest describes a new editing session.
type OpenRequest struct {
	NoteID   string       `json:"note_id"`
	Document note.Content `json:"document"`
	Visit    Visit        `json:"visit"`
}

// Manager holds the open sessions. A note has at most one session: opening
// a second one closes the first along with its recorder.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
	byNote   map[string]string
}

// NewManager creates an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		byNote:   make(map[string]string),
	}
}

// Open creates a session for req.NoteID, replacing any existing one.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if m.cfg.SourceFor == nil {
		return nil, errors.New("editor: manager has no audio source")
	}
	id := uuid.NewString()
	s, err := New(Config{
		ID:              id,
		NoteID:          req.NoteID,
		Document:        req.Document,
		Visit:           req.Visit,
		Source:          m.cfg.SourceFor(id),
		Generator:       m.cfg.Generator,
		Sink:            m.cfg.Sink,
		Metrics:         m.cfg.Metrics,
		RecorderOptions: m.cfg.RecorderOptions,
	})
	if err != nil {
		return nil, err
	}

	var old *Session
	m.mu.Lock()
	if req.NoteID != "" {
		if oldID, ok := m.byNote[req.NoteID]; ok {
			old = m.sessions[oldID]
			delete(m.sessions, oldID)
		}
		m.byNote[req.NoteID] = id
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	if old != nil {
		slog.InfoContext(ctx, "editor: replacing session", "note_id", req.NoteID, "old_session_id", old.ID(), "session_id", id)
		m.closeSession(ctx, old)
	}
	slog.InfoContext(ctx, "editor: session opened", "session_id", id, "note_id", req.NoteID)
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and forgets the session with the given ID.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	if m.byNote[s.NoteID()] == id {
		delete(m.byNote, s.NoteID())
	}
	m.mu.Unlock()

	m.closeSession(ctx, s)
	return nil
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.byNote = make(map[string]string)
	m.mu.Unlock()

	for _, s := range all {
		m.closeSession(ctx, s)
	}
}

// List returns a snapshot of every open session, oldest first.
func (m *Manager) List() []Status {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) closeSession(ctx context.Context, s *Session) {
	if err := s.Close(); err != nil {
		slog.WarnContext(ctx, "editor: closing session", "session_id", s.ID(), "err", err)
	}
	m.cfg.Metrics.ActiveSessions.Add(ctx, -1)
}
