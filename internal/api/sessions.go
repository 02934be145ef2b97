package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrWong99/scribe/internal/editor"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/suggestion"
	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// sessionView is the response body of the session routes.
type sessionView struct {
	editor.Status
	Document note.Content `json:"document"`
}

func viewOf(s *editor.Session) sessionView {
	return sessionView{Status: s.Status(), Document: s.Document()}
}

// session resolves the {id} path value or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req editor.OpenRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Open(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var doc note.Content
	if err := decode(w, r, &doc); err != nil {
		writeError(w, r, err)
		return
	}
	sess.SetDocument(doc)
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSetVisit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var v editor.Visit
	if err := decode(w, r, &v); err != nil {
		writeError(w, r, err)
		return
	}
	sess.SetVisit(v)
	w.WriteHeader(http.StatusNoContent)
}

// handleAudio hands the browser's microphone WebSocket to the session's
// recorder. The request blocks until that recording is over.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.mic == nil {
		http.Error(w, "microphone bridge disabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.mic.Accept(w, r, sess.ID()); err != nil {
		observe.Logger(r.Context()).Warn("api: microphone websocket", "session_id", sess.ID(), "err", err)
	}
}

func (s *Server) handleRecorderStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.RecorderStatus())
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// The recording outlives this request; Stop or the session ends it.
	if err := sess.StartRecording(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.RecorderStatus())
}

// handleStopRecording answers with the generation outcome. Recording and
// generation failures are reported inside the outcome with status 200 so
// the UI renders them like any other result.
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.StopRecording(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.AcknowledgeRecording(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.RecorderStatus())
}

type askRequest struct {
	Section string `json:"section"`
	Query   string `json:"query"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sec, err := note.ParseSection(req.Section)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", editor.ErrInvalidSection, err))
		return
	}
	out, err := sess.Ask(r.Context(), sec, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, ok := sess.Pending()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: suggestion.ErrNoPending.Error(), Kind: "no_pending"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// mergeRequest selects how content is merged into the document. Sections
// may be empty to merge every section that carries text.
type mergeRequest struct {
	Mode     string   `json:"mode"`
	Sections []string `json:"sections"`
}

func (m mergeRequest) parse() (note.Mode, []note.Section, error) {
	mode, err := note.ParseMode(m.Mode)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", editor.ErrInvalidMode, err)
	}
	if len(m.Sections) == 0 {
		return mode, nil, nil
	}
	secs, err := note.ParseSections(m.Sections)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", editor.ErrInvalidSection, err)
	}
	return mode, secs, nil
}

// approveRequest names the suggestion the clinician reviewed by its token.
type approveRequest struct {
	Token generation.Token `json:"token"`
	mergeRequest
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Token == 0 {
		writeError(w, r, fmt.Errorf("%w: token is required", errBadRequest))
		return
	}
	mode, targets, err := req.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := sess.Approve(r.Context(), req.Token, mode, targets); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Discard(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type insertTemplateRequest struct {
	TemplateID string `json:"template_id"`
	// Version selects a historical version; 0 means the current one.
	Version int `json:"version"`
	mergeRequest
}

func (s *Server) handleInsertTemplate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req insertTemplateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mode, targets, err := req.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}
	tpl, err := s.templates.Get(r.Context(), req.TemplateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	content := tpl.Content
	if req.Version != 0 {
		v, ok := tpl.Lookup(req.Version)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: %d", template.ErrVersionNotFound, req.Version))
			return
		}
		content = v.Content
	}
	if _, err := sess.Insert(content, mode, targets); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}
