package template

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{templates: make(map[string]*Template)}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return fmt.Errorf("template: id %q already exists", t.ID)
	}
	s.templates[t.ID] = t.Clone()
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Template, error) {
	s.mu.RLock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		c := *t
		c.History = nil
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update implements [Store].
func (s *MemStore) Update(_ context.Context, t *Template, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.templates[t.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, t.ID)
	}
	if cur.Version != expectedVersion || t.Version != expectedVersion+1 {
		return fmt.Errorf("%w: expected %d, stored %d", ErrVersionConflict, expectedVersion, cur.Version)
	}
	s.templates[t.ID] = t.Clone()
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, id)
	return nil
}

// Ping implements [Store].
func (s *MemStore) Ping(context.Context) error { return nil }
