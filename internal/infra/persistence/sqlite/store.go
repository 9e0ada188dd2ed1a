// Package sqlite provides a SQLite-backed entity store. Units of work run in
// the in-memory store; each commit is written to SQLite before it becomes
// visible.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/internal/infra/persistence/sqlrows"
	"entityfiler/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "entityfiler.db"

// Store persists commits to a SQLite database file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path, applies the schema and
// hydrates the in-memory state from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps SQLite writers serialized.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := sqlrows.ApplySchema(ctx, db, sqlrows.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlrows.LoadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db, path: path}
	mem.OnCommit(func(ctx context.Context, c memory.Commit) error {
		return sqlrows.Persist(ctx, s.db, sqlrows.SQLite, c)
	})
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
