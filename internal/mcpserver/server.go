// Package mcpserver exposes the note normalizer and the template library as
// Model Context Protocol tools, so assistants can turn raw generation output
// into SOAP notes and look up templates.
//
// Tools:
//
//   - normalize_note: raw generation response → four-section note
//   - list_templates: all templates, or a fuzzy search by name/specialty
//   - get_template: one template, optionally at a historical version
//
// The server is served over streamable HTTP via [Server.Handler].
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/scribe/internal/normalize"
	"github.com/MrWong99/scribe/internal/template"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

// Server wraps an MCP server with the scribe tools registered.
type Server struct {
	templates *template.Service
	srv       *mcpsdk.Server
}

// New creates a Server. templates may be nil, in which case only
// normalize_note is registered.
func New(templates *template.Service, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		templates: templates,
		srv:       mcpsdk.NewServer(&mcpsdk.Implementation{Name: "scribe", Version: version}, nil),
	}

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "normalize_note",
		Description: "Convert a raw note-generation response into a SOAP note with " +
			"subjective, objective, assessment and plan sections. The response may be " +
			"a JSON string, a JSON object keyed by section, or plain labelled text.",
	}, s.normalizeNote)

	if templates != nil {
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name:        "list_templates",
			Description: "List SOAP note templates. With a query, returns fuzzy matches on name or specialty, best first.",
		}, s.listTemplates)
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name:        "get_template",
			Description: "Fetch one SOAP note template by ID, optionally at an earlier version.",
		}, s.getTemplate)
	}
	return s
}

// MCP returns the underlying SDK server, e.g. to connect it to a custom
// transport.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler returns a streamable HTTP handler serving the tools.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// ─── normalize_note ───────────────────────────────────────────────────────────

// NormalizeInput is the argument of normalize_note.
type NormalizeInput struct {
	Response  string `json:"response" jsonschema:"the generation service response value, as JSON or plain text"`
	PlainText bool   `json:"plain_text,omitempty" jsonschema:"strip rich-text markup from the sections"`
}

// NormalizeOutput is the result of normalize_note.
type NormalizeOutput struct {
	Note     note.Content `json:"note"`
	Shape    string       `json:"shape"`
	Rendered string       `json:"rendered"`
}

func (s *Server) normalizeNote(ctx context.Context, _ *mcpsdk.CallToolRequest, in NormalizeInput) (*mcpsdk.CallToolResult, NormalizeOutput, error) {
	start := time.Now()
	raw := generation.ParseRaw(in.Response)
	content, err := normalize.Normalize(raw)
	if err != nil {
		slog.DebugContext(ctx, "mcp: normalize_note failed", "shape", raw.Kind.String(), "err", err)
		return nil, NormalizeOutput{}, err
	}
	if in.PlainText {
		content = note.PlainContent(content)
	}
	slog.DebugContext(ctx, "mcp: normalize_note", "shape", raw.Kind.String(), "duration", time.Since(start))
	return nil, NormalizeOutput{Note: content, Shape: raw.Kind.String(), Rendered: content.Render()}, nil
}

// ─── list_templates ───────────────────────────────────────────────────────────

// ListInput is the argument of list_templates.
type ListInput struct {
	Query string `json:"query,omitempty" jsonschema:"fuzzy search on template name or specialty"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of templates to return"`
}

// TemplateSummary describes a template without its content.
type TemplateSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Specialty string  `json:"specialty,omitempty"`
	Version   int     `json:"version"`
	Score     float64 `json:"score,omitempty"`
}

// ListOutput is the result of list_templates.
type ListOutput struct {
	Templates []TemplateSummary `json:"templates"`
}

func (s *Server) listTemplates(ctx context.Context, _ *mcpsdk.CallToolRequest, in ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	out := ListOutput{Templates: []TemplateSummary{}}
	if strings.TrimSpace(in.Query) != "" {
		matches, err := s.templates.Search(ctx, in.Query, in.Limit)
		if err != nil {
			return nil, ListOutput{}, fmt.Errorf("search templates: %w", err)
		}
		for _, m := range matches {
			sum := summarize(m.Template)
			sum.Score = m.Score
			out.Templates = append(out.Templates, sum)
		}
		return nil, out, nil
	}

	all, err := s.templates.List(ctx)
	if err != nil {
		return nil, ListOutput{}, fmt.Errorf("list templates: %w", err)
	}
	for i, t := range all {
		if in.Limit > 0 && i == in.Limit {
			break
		}
		out.Templates = append(out.Templates, summarize(t))
	}
	return nil, out, nil
}

func summarize(t template.Template) TemplateSummary {
	return TemplateSummary{ID: t.ID, Name: t.Name, Specialty: t.Specialty, Version: t.Version}
}

// ─── get_template ─────────────────────────────────────────────────────────────

// GetInput is the argument of get_template.
type GetInput struct {
	ID      string `json:"id" jsonschema:"template ID"`
	Version int    `json:"version,omitempty" jsonschema:"historical version to return; the current version when omitted"`
}

// GetOutput is the result of get_template.
type GetOutput struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Specialty string       `json:"specialty,omitempty"`
	Version   int          `json:"version"`
	Content   note.Content `json:"content"`
	Rendered  string       `json:"rendered"`
}

func (s *Server) getTemplate(ctx context.Context, _ *mcpsdk.CallToolRequest, in GetInput) (*mcpsdk.CallToolResult, GetOutput, error) {
	if in.ID == "" {
		return nil, GetOutput{}, errors.New("id is required")
	}
	t, err := s.templates.Get(ctx, in.ID)
	if err != nil {
		return nil, GetOutput{}, err
	}
	out := GetOutput{ID: t.ID, Name: t.Name, Specialty: t.Specialty, Version: t.Version, Content: t.Content}
	if in.Version != 0 && in.Version != t.Version {
		v, ok := t.Lookup(in.Version)
		if !ok {
			return nil, GetOutput{}, fmt.Errorf("%w: %d", template.ErrVersionNotFound, in.Version)
		}
		out.Version = v.Version
		out.Content = v.Content
	}
	out.Rendered = out.Content.Render()
	return nil, out, nil
}
