// Package postgres provides a Postgres-backed entity store that mirrors the
// in-memory semantics and writes every commit to Postgres before applying it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/internal/infra/persistence/sqlrows"
	"entityfiler/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/entityfiler?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store persists commits to Postgres while reusing the in-memory implementation for units of work.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the schema and hydrates the in-memory store from the persisted rows.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts Options) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, &domain.PersistenceError{Op: "ping postgres", Err: err}
	}
	if err := sqlrows.ApplySchema(ctx, db, sqlrows.Postgres); err != nil {
		return nil, err
	}
	snapshot, err := sqlrows.LoadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.OnCommit(func(ctx context.Context, c memory.Commit) error {
		return sqlrows.Persist(ctx, s.db, sqlrows.Postgres, c)
	})
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
