package api

import (
	"net/http"

	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/note"
)

type createTemplateRequest struct {
	Name      string       `json:"name"`
	Specialty string       `json:"specialty"`
	Content   note.Content `json:"content"`
	Author    string       `json:"author"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name is required"})
		return
	}
	t, err := s.templates.Create(r.Context(), req.Name, req.Specialty, req.Content, req.Author)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleListTemplates lists every template, or searches by fuzzy name when
// q is given.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q := r.URL.Query().Get("q"); q != "" {
		matches, err := s.templates.Search(r.Context(), q, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if matches == nil {
			matches = []template.Match{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
		return
	}
	all, err := s.templates.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []template.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": all})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type editTemplateRequest struct {
	ExpectedVersion int          `json:"expected_version"`
	Content         note.Content `json:"content"`
	Author          string       `json:"author"`
}

// handleEditTemplate saves new content. A stale expected_version yields 409
// and the client has to reload before editing again.
func (s *Server) handleEditTemplate(w http.ResponseWriter, r *http.Request) {
	var req editTemplateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.templates.Edit(r.Context(), r.PathValue("id"), req.ExpectedVersion, req.Content, req.Author)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemplateHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := s.templates.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type duplicateTemplateRequest struct {
	Author string `json:"author"`
}

func (s *Server) handleDuplicateTemplate(w http.ResponseWriter, r *http.Request) {
	var req duplicateTemplateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.templates.Duplicate(r.Context(), r.PathValue("id"), req.Author)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type restoreTemplateRequest struct {
	ExpectedVersion int    `json:"expected_version"`
	Version         int    `json:"version"`
	Author          string `json:"author"`
}

func (s *Server) handleRestoreTemplate(w http.ResponseWriter, r *http.Request) {
	var req restoreTemplateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.templates.Restore(r.Context(), r.PathValue("id"), req.ExpectedVersion, req.Version, req.Author)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
