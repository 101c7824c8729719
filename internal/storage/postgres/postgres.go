// Package postgres provides the PostgreSQL document store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/RolldeoDev/rolldeo-go/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	namespace  TEXT NOT NULL DEFAULT '',
	version    TEXT NOT NULL DEFAULT '',
	raw        BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Store is a PostgreSQL implementation of storage.DocumentStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.DocumentStore = (*Store)(nil)

// Open connects to the database and ensures the documents table exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection, e.g. a mock in tests. The schema
// is not created.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec storage.Record) (storage.Record, error) {
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, namespace, version, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			namespace = EXCLUDED.namespace,
			version = EXCLUDED.version,
			raw = EXCLUDED.raw,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Name, rec.Namespace, rec.Version, rec.Raw, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return storage.Record{}, fmt.Errorf("put document %q: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (storage.Record, error) {
	var rec storage.Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, name, namespace, version, raw, created_at, updated_at FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("get document %q: %w", id, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	var recs []storage.Record
	err := s.db.SelectContext(ctx, &recs,
		`SELECT id, name, namespace, version, raw, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
