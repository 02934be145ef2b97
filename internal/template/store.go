package template

import "context"

// Store persists templates. Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new template. Its history must be empty.
	Create(ctx context.Context, t *Template) error

	// Get returns the template with its full history, or ErrNotFound.
	Get(ctx context.Context, id string) (*Template, error)

	// List returns all templates ordered by name, without history.
	List(ctx context.Context) ([]Template, error)

	// Update stores t, which must be exactly one edit ahead of
	// expectedVersion: t.Version == expectedVersion+1 and the last History
	// entry is the superseded state. It fails with ErrVersionConflict when
	// the stored version is no longer expectedVersion.
	Update(ctx context.Context, t *Template, expectedVersion int) error

	// Delete removes a template and its history. Deleting an unknown ID is
	// not an error.
	Delete(ctx context.Context, id string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
