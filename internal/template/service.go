package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scribe/pkg/note"
)

// defaultSearchThreshold is the minimum Jaro-Winkler similarity for a
// fuzzy name match.
const defaultSearchThreshold = 0.82

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithConflictHook registers fn to be called whenever an edit or restore is
// rejected with ErrVersionConflict.
func WithConflictHook(fn func(templateID string)) ServiceOption {
	return func(s *Service) {
		s.onConflict = fn
	}
}

// WithSearchThreshold sets the minimum similarity in [0, 1] for Search.
func WithSearchThreshold(th float64) ServiceOption {
	return func(s *Service) {
		s.threshold.Store(math.Float64bits(th))
	}
}

// Service implements the template operations on top of a [Store].
type Service struct {
	store      Store
	threshold  atomic.Uint64 // float64 bits
	onConflict func(string)
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store}
	s.threshold.Store(math.Float64bits(defaultSearchThreshold))
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSearchThreshold changes the Search threshold of a running service.
func (s *Service) SetSearchThreshold(th float64) {
	s.threshold.Store(math.Float64bits(th))
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Create stores a new version-1 template.
func (s *Service) Create(ctx context.Context, name, specialty string, content note.Content, author string) (*Template, error) {
	t, err := New(name, specialty, content, author)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	slog.Info("template created", "template_id", t.ID, "name", t.Name, "author", author)
	return t, nil
}

// Get returns a template with its history.
func (s *Service) Get(ctx context.Context, id string) (*Template, error) {
	return s.store.Get(ctx, id)
}

// List returns all templates without history.
func (s *Service) List(ctx context.Context) ([]Template, error) {
	return s.store.List(ctx)
}

// History returns every version of a template, oldest first, ending with
// the current one.
func (s *Service) History(ctx context.Context, id string) ([]Version, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return append(t.History, t.Current()), nil
}

// Edit replaces a template's content if expectedVersion is still current.
func (s *Service) Edit(ctx context.Context, id string, expectedVersion int, content note.Content, author string) (*Template, error) {
	return s.apply(ctx, id, expectedVersion, author, func(t *Template) error {
		return t.Edit(expectedVersion, content, author)
	})
}

// Restore re-applies the content of targetVersion as a new version.
func (s *Service) Restore(ctx context.Context, id string, expectedVersion, targetVersion int, author string) (*Template, error) {
	return s.apply(ctx, id, expectedVersion, author, func(t *Template) error {
		return t.Restore(expectedVersion, targetVersion, author)
	})
}

func (s *Service) apply(ctx context.Context, id string, expectedVersion int, author string, change func(*Template) error) (*Template, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := change(t); err != nil {
		s.conflict(id, err)
		return nil, err
	}
	if err := s.store.Update(ctx, t, expectedVersion); err != nil {
		s.conflict(id, err)
		return nil, err
	}
	slog.Info("template updated", "template_id", id, "version", t.Version, "author", author)
	return t, nil
}

func (s *Service) conflict(id string, err error) {
	if !errors.Is(err, ErrVersionConflict) {
		return
	}
	slog.Warn("template edit rejected", "template_id", id, "err", err)
	if s.onConflict != nil {
		s.onConflict(id)
	}
}

// Duplicate stores a copy of a template as a new version-1 template.
func (s *Service) Duplicate(ctx context.Context, id, author string) (*Template, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dup := t.Duplicate(author)
	if err := s.store.Create(ctx, dup); err != nil {
		return nil, err
	}
	slog.Info("template duplicated", "template_id", dup.ID, "source_id", id)
	return dup, nil
}

// Delete removes a template and its history.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Match is a Search hit.
type Match struct {
	Template Template `json:"template"`
	Score    float64  `json:"score"`
}

// Search returns templates whose name or specialty matches query, best
// first. A case-insensitive substring match scores 1; otherwise the
// Jaro-Winkler similarity must reach the service threshold. limit <= 0
// returns every match.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	threshold := math.Float64frombits(s.threshold.Load())
	var out []Match
	for _, t := range all {
		score := 1.0
		if q != "" {
			score = max(similarity(q, t.Name), similarity(q, t.Specialty))
		}
		if score >= threshold {
			out = append(out, Match{Template: t, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Template.Name < out[j].Template.Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// similarity scores the lowercase query q against s.
func similarity(q, s string) float64 {
	s = strings.ToLower(s)
	if s == "" {
		return 0
	}
	if strings.Contains(s, q) {
		return 1
	}
	score := matchr.JaroWinkler(q, s, false)
	for _, word := range strings.Fields(s) {
		if w := matchr.JaroWinkler(q, word, false); w > score {
			score = w
		}
	}
	return score
}

// Import creates a template for each seed whose name is not taken yet
// (case-insensitive) and returns how many were created.
func (s *Service) Import(ctx context.Context, seeds []Seed, author string) (int, error) {
	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[strings.ToLower(t.Name)] = true
	}

	n := 0
	for _, seed := range seeds {
		key := strings.ToLower(strings.TrimSpace(seed.Name))
		if taken[key] {
			slog.Debug("template seed skipped, name exists", "name", seed.Name)
			continue
		}
		if _, err := s.Create(ctx, seed.Name, seed.Specialty, seed.Content, author); err != nil {
			return n, fmt.Errorf("template: import %q: %w", seed.Name, err)
		}
		taken[key] = true
		n++
	}
	return n, nil
}
