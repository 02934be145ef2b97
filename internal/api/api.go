// Package api exposes editing sessions and note templates as a JSON HTTP
// API and bridges the browser microphone WebSocket.
//
// Routes (all bodies are JSON):
//
//	POST   /api/sessions                            open a session
//	GET    /api/sessions                            list sessions
//	GET    /api/sessions/{id}                       status + document
//	DELETE /api/sessions/{id}                       close a session
//	PUT    /api/sessions/{id}/document              replace the working copy
//	PUT    /api/sessions/{id}/visit                 replace the visit context
//	GET    /api/sessions/{id}/audio                 microphone WebSocket
//	GET    /api/sessions/{id}/recording             recorder status
//	POST   /api/sessions/{id}/recording/start
//	POST   /api/sessions/{id}/recording/stop        → Outcome
//	POST   /api/sessions/{id}/recording/acknowledge
//	POST   /api/sessions/{id}/ask                   → Outcome
//	GET    /api/sessions/{id}/suggestion
//	POST   /api/sessions/{id}/suggestion/approve    {"token", "mode", "sections"}
//	POST   /api/sessions/{id}/suggestion/discard
//	POST   /api/sessions/{id}/template              insert a template
//	POST   /api/templates
//	GET    /api/templates[?q=&limit=]
//	GET    /api/templates/{id}
//	PUT    /api/templates/{id}
//	DELETE /api/templates/{id}
//	GET    /api/templates/{id}/history
//	POST   /api/templates/{id}/duplicate
//	POST   /api/templates/{id}/restore
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/scribe/internal/editor"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/recorder"
	"github.com/MrWong99/scribe/internal/suggestion"
	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/audio/wsmic"
)

// maxBodyBytes bounds request bodies. Notes are rich text, not media.
const maxBodyBytes = 4 << 20

// Server serves the scribe HTTP API.
type Server struct {
	sessions  *editor.Manager
	templates *template.Service
	mic       *wsmic.Hub
}

// New creates a Server. mic may be nil, in which case the audio route
// answers 503.
func New(sessions *editor.Manager, templates *template.Service, mic *wsmic.Hub) *Server {
	return &Server{sessions: sessions, templates: templates, mic: mic}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", s.handleOpen)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("PUT /api/sessions/{id}/document", s.handleSetDocument)
	mux.HandleFunc("PUT /api/sessions/{id}/visit", s.handleSetVisit)
	mux.HandleFunc("GET /api/sessions/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /api/sessions/{id}/recording", s.handleRecorderStatus)
	mux.HandleFunc("POST /api/sessions/{id}/recording/start", s.handleStartRecording)
	mux.HandleFunc("POST /api/sessions/{id}/recording/stop", s.handleStopRecording)
	mux.HandleFunc("POST /api/sessions/{id}/recording/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /api/sessions/{id}/ask", s.handleAsk)
	mux.HandleFunc("GET /api/sessions/{id}/suggestion", s.handleGetSuggestion)
	mux.HandleFunc("POST /api/sessions/{id}/suggestion/approve", s.handleApprove)
	mux.HandleFunc("POST /api/sessions/{id}/suggestion/discard", s.handleDiscard)
	mux.HandleFunc("POST /api/sessions/{id}/template", s.handleInsertTemplate)

	mux.HandleFunc("POST /api/templates", s.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleEditTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("GET /api/templates/{id}/history", s.handleTemplateHistory)
	mux.HandleFunc("POST /api/templates/{id}/duplicate", s.handleDuplicateTemplate)
	mux.HandleFunc("POST /api/templates/{id}/restore", s.handleRestoreTemplate)
}

// Handler returns the API routes on a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var recErr *recorder.RecordingError
	switch {
	case errors.Is(err, editor.ErrSessionNotFound),
		errors.Is(err, template.ErrNotFound),
		errors.Is(err, template.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, template.ErrVersionConflict),
		errors.Is(err, suggestion.ErrNoPending),
		errors.Is(err, suggestion.ErrStaleSuggestion),
		errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrNotIdle),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, recorder.ErrBusy),
		errors.Is(err, wsmic.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, editor.ErrClosed), errors.Is(err, recorder.ErrClosed):
		return http.StatusGone
	case errors.Is(err, editor.ErrEmptyQuery),
		errors.Is(err, editor.ErrInvalidMode),
		errors.Is(err, editor.ErrInvalidSection),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &recErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, editor.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encoding response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	switch {
	case errors.Is(err, suggestion.ErrNoPending):
		// The UI only offers approve/discard while a suggestion is pending.
		log.Error("api: suggestion action without pending suggestion", "path", r.URL.Path, "err", err)
	case status >= http.StatusInternalServerError:
		log.Error("api: request failed", "path", r.URL.Path, "err", err)
	default:
		log.Debug("api: request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	body := errorBody{Error: err.Error(), Retryable: editor.Retryable(err)}
	if kind := editor.ErrorKind(err); kind != "internal" || status >= http.StatusInternalServerError {
		body.Kind = kind
	}
	writeJSON(w, status, body)
}

var errBadRequest = errors.New("invalid request")

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return n, nil
}
