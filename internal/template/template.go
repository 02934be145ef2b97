// Package template manages named note templates with an append-only version
// history.
//
// A [Template] carries its current content and version plus every superseded
// version. Each Edit snapshots the current content into the history and bumps
// the version by one; Restore re-applies historical content through Edit, so
// history is never rewound. Concurrent edits are resolved by compare-and-swap
// on the version: the loser gets [ErrVersionConflict] and nothing is merged.
package template

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/pkg/note"
)

var (
	// ErrVersionConflict is returned when an edit names a version other than
	// the template's current one.
	ErrVersionConflict = errors.New("template: version conflict")

	// ErrVersionNotFound is returned by Restore for a version that is not in
	// the template's history.
	ErrVersionNotFound = errors.New("template: version not found")

	// ErrNotFound is returned by a Store for an unknown template ID.
	ErrNotFound = errors.New("template: not found")
)

// Version is one superseded state of a template.
type Version struct {
	Version   int          `json:"version" yaml:"version"`
	Content   note.Content `json:"content" yaml:"content"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"updated_at"`
	UpdatedBy string       `json:"updated_by" yaml:"updated_by"`
}

// Template is a named note template.
type Template struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Specialty string       `json:"specialty,omitempty"`
	Content   note.Content `json:"content"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	UpdatedBy string       `json:"updated_by"`

	// History holds superseded versions in ascending version order.
	History []Version `json:"history,omitempty"`
}

// New returns version 1 of a new template with a fresh ID and empty history.
func New(name, specialty string, content note.Content, author string) (*Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("template: name must not be empty")
	}
	now := time.Now().UTC()
	return &Template{
		ID:        uuid.NewString(),
		Name:      name,
		Specialty: strings.TrimSpace(specialty),
		Content:   content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: author,
	}, nil
}

// Current returns the template's current state as a Version.
func (t *Template) Current() Version {
	return Version{
		Version:   t.Version,
		Content:   t.Content,
		UpdatedAt: t.UpdatedAt,
		UpdatedBy: t.UpdatedBy,
	}
}

// Edit replaces the content if expectedVersion is the current version. The
// previous state is appended to History and Version increases by one.
func (t *Template) Edit(expectedVersion int, content note.Content, author string) error {
	if expectedVersion != t.Version {
		return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expectedVersion, t.Version)
	}
	t.History = append(t.History, t.Current())
	t.Content = content
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	t.UpdatedBy = author
	return nil
}

// Restore makes the content of targetVersion current again by way of Edit.
// The restored state gets a new version number.
func (t *Template) Restore(expectedVersion, targetVersion int, author string) error {
	v, ok := t.Lookup(targetVersion)
	if !ok {
		return fmt.Errorf("%w: %d", ErrVersionNotFound, targetVersion)
	}
	return t.Edit(expectedVersion, v.Content, author)
}

// Lookup returns the historical version numbered v.
func (t *Template) Lookup(v int) (Version, bool) {
	for _, h := range t.History {
		if h.Version == v {
			return h, true
		}
	}
	return Version{}, false
}

// Duplicate returns a new version-1 template with the same content, a fresh
// ID and no history.
func (t *Template) Duplicate(author string) *Template {
	now := time.Now().UTC()
	return &Template{
		ID:        uuid.NewString(),
		Name:      t.Name + " (copy)",
		Specialty: t.Specialty,
		Content:   t.Content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: author,
	}
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	c := *t
	c.History = append([]Version(nil), t.History...)
	return &c
}
