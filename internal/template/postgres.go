package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the template tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS note_templates (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    specialty   TEXT NOT NULL DEFAULT '',
    content     JSONB NOT NULL,
    version     INTEGER NOT NULL CHECK (version >= 1),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_by  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_note_templates_name ON note_templates(name);

CREATE TABLE IF NOT EXISTS note_template_versions (
    template_id TEXT NOT NULL REFERENCES note_templates(id) ON DELETE CASCADE,
    version     INTEGER NOT NULL,
    content     JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    updated_by  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (template_id, version)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Note content is stored as
// JSONB; superseded versions live in their own table.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("template: migrate: %w", err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, t *Template) error {
	content, err := json.Marshal(t.Content)
	if err != nil {
		return fmt.Errorf("template: marshal content: %w", err)
	}

	const query = `
		INSERT INTO note_templates (
			id, name, specialty, content, version, created_at, updated_at, updated_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = s.db.Exec(ctx, query,
		t.ID, t.Name, t.Specialty, content, t.Version, t.CreatedAt, t.UpdatedAt, t.UpdatedBy,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("template: id %q already exists", t.ID)
		}
		return fmt.Errorf("template: create: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Template, error) {
	const query = `
		SELECT id, name, specialty, content, version, created_at, updated_at, updated_by
		FROM note_templates
		WHERE id = $1`

	var t Template
	var content []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Specialty, &content, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("template: get %q: %w", id, err)
	}
	if err := json.Unmarshal(content, &t.Content); err != nil {
		return nil, fmt.Errorf("template: unmarshal content: %w", err)
	}

	history, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}
	t.History = history
	return &t, nil
}

func (s *PostgresStore) history(ctx context.Context, id string) ([]Version, error) {
	const query = `
		SELECT version, content, updated_at, updated_by
		FROM note_template_versions
		WHERE template_id = $1
		ORDER BY version`

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("template: history %q: %w", id, err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		var v Version
		var content []byte
		if err := rows.Scan(&v.Version, &content, &v.UpdatedAt, &v.UpdatedBy); err != nil {
			return nil, fmt.Errorf("template: history scan: %w", err)
		}
		if err := json.Unmarshal(content, &v.Content); err != nil {
			return nil, fmt.Errorf("template: unmarshal version %d: %w", v.Version, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template: history %q: %w", id, err)
	}
	return out, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Template, error) {
	const query = `
		SELECT id, name, specialty, content, version, created_at, updated_at, updated_by
		FROM note_templates
		ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var content []byte
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Specialty, &content, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("template: list scan: %w", err)
		}
		if err := json.Unmarshal(content, &t.Content); err != nil {
			return nil, fmt.Errorf("template: unmarshal content: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}
	return out, nil
}

// Update implements [Store]. The version check, the update and the history
// insert run as one statement, so a lost race leaves no partial write.
func (s *PostgresStore) Update(ctx context.Context, t *Template, expectedVersion int) error {
	if t.Version != expectedVersion+1 || len(t.History) == 0 {
		return fmt.Errorf("%w: template is not one edit ahead of version %d", ErrVersionConflict, expectedVersion)
	}
	prev := t.History[len(t.History)-1]

	content, err := json.Marshal(t.Content)
	if err != nil {
		return fmt.Errorf("template: marshal content: %w", err)
	}
	prevContent, err := json.Marshal(prev.Content)
	if err != nil {
		return fmt.Errorf("template: marshal version %d: %w", prev.Version, err)
	}

	const query = `
		WITH upd AS (
			UPDATE note_templates SET
				name = $2, specialty = $3, content = $4, version = $5,
				updated_at = $6, updated_by = $7
			WHERE id = $1 AND version = $8
			RETURNING id
		), hist AS (
			INSERT INTO note_template_versions (template_id, version, content, updated_at, updated_by)
			SELECT id, $9, $10, $11, $12 FROM upd
		)
		SELECT count(*) FROM upd`

	var updated int
	err = s.db.QueryRow(ctx, query,
		t.ID, t.Name, t.Specialty, content, t.Version, t.UpdatedAt, t.UpdatedBy, expectedVersion,
		prev.Version, prevContent, prev.UpdatedAt, prev.UpdatedBy,
	).Scan(&updated)
	if err != nil {
		return fmt.Errorf("template: update %q: %w", t.ID, err)
	}
	if updated == 1 {
		return nil
	}

	var stored int
	err = s.db.QueryRow(ctx, `SELECT version FROM note_templates WHERE id = $1`, t.ID).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, t.ID)
		}
		return fmt.Errorf("template: update %q: %w", t.ID, err)
	}
	return fmt.Errorf("%w: expected %d, stored %d", ErrVersionConflict, expectedVersion, stored)
}

// Delete implements [Store]. History rows are removed by cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM note_templates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("template: delete %q: %w", id, err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("template: ping: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
