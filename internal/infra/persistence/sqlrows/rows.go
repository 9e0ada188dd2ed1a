// Package sqlrows maps memory store commits onto relational tables. The
// sqlite and postgres stores share it and differ only in their Dialect.
package sqlrows

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"entityfiler/internal/infra/persistence/memory"
	"entityfiler/pkg/domain"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Payload is the column type used for JSON documents.
	Payload string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// SQLite uses positional question marks and BLOB payloads.
var SQLite = Dialect{Name: "sqlite", Payload: "BLOB", Placeholder: func(int) string { return "?" }}

// Postgres uses numbered parameters and JSONB payloads.
var Postgres = Dialect{Name: "postgres", Payload: "JSONB", Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Schema returns the DDL statements for the dialect.
func Schema(d Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGINT PRIMARY KEY,
			issued_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS businesses (
			id BIGINT PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			transaction_id BIGINT NOT NULL,
			payload %s NOT NULL
		)`, d.Payload),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS filings (
			id BIGINT PRIMARY KEY,
			business_id BIGINT,
			status TEXT NOT NULL,
			transaction_id BIGINT NOT NULL,
			payload %s NOT NULL
		)`, d.Payload),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS versions (
			entity TEXT NOT NULL,
			entity_id BIGINT NOT NULL,
			transaction_id BIGINT NOT NULL,
			business_id BIGINT NOT NULL,
			action TEXT NOT NULL,
			payload %s,
			PRIMARY KEY (entity, entity_id, transaction_id)
		)`, d.Payload),
		`CREATE TABLE IF NOT EXISTS sequences (
			entity TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}
}

// ApplySchema executes the dialect DDL.
func ApplySchema(ctx context.Context, db Execer, d Dialect) error {
	for _, stmt := range Schema(d) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func binds(d Dialect, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ",")
}

// WriteCommit upserts the commit's rows and appends its versions.
func WriteCommit(ctx context.Context, tx Execer, d Dialect, c memory.Commit) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions(id, issued_at) VALUES(`+binds(d, 2)+`)`,
		c.TransactionID, c.IssuedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")); err != nil {
		return fmt.Errorf("insert transaction %d: %w", c.TransactionID, err)
	}
	for _, b := range c.Businesses {
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode business %d: %w", b.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO businesses(id, identifier, transaction_id, payload) VALUES(`+binds(d, 4)+`)
			ON CONFLICT(id) DO UPDATE SET identifier=excluded.identifier, transaction_id=excluded.transaction_id, payload=excluded.payload`,
			b.ID, b.Identifier, b.TransactionID, payload); err != nil {
			return fmt.Errorf("upsert business %d: %w", b.ID, err)
		}
	}
	for _, f := range c.Filings {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode filing %d: %w", f.ID, err)
		}
		var businessID any
		if f.BusinessID != nil {
			businessID = *f.BusinessID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO filings(id, business_id, status, transaction_id, payload) VALUES(`+binds(d, 5)+`)
			ON CONFLICT(id) DO UPDATE SET business_id=excluded.business_id, status=excluded.status, transaction_id=excluded.transaction_id, payload=excluded.payload`,
			f.ID, businessID, string(f.Status), f.TransactionID, payload); err != nil {
			return fmt.Errorf("upsert filing %d: %w", f.ID, err)
		}
	}
	for _, v := range c.Versions {
		var payload any
		if len(v.Data) > 0 {
			payload = []byte(v.Data)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO versions(entity, entity_id, transaction_id, business_id, action, payload) VALUES(`+binds(d, 6)+`)`,
			string(v.Entity), v.EntityID, v.TransactionID, v.BusinessID, string(v.Action), payload); err != nil {
			return fmt.Errorf("append %s version %d@%d: %w", v.Entity, v.EntityID, v.TransactionID, err)
		}
	}
	for entity, value := range c.Sequences {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sequences(entity, value) VALUES(`+binds(d, 2)+`)
			ON CONFLICT(entity) DO UPDATE SET value=excluded.value`,
			string(entity), value); err != nil {
			return fmt.Errorf("upsert sequence %s: %w", entity, err)
		}
	}
	return nil
}

// LoadSnapshot reads every table back into a memory snapshot.
func LoadSnapshot(ctx context.Context, db Querier) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Businesses: make(map[int64]domain.Business),
		Filings:    make(map[int64]domain.Filing),
		Sequences:  make(map[domain.EntityType]int64),
	}
	if err := scanPayloads(ctx, db, `SELECT payload FROM businesses ORDER BY id`, func(raw []byte) error {
		var b domain.Business
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("decode business: %w", err)
		}
		snapshot.Businesses[b.ID] = b
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := scanPayloads(ctx, db, `SELECT payload FROM filings ORDER BY id`, func(raw []byte) error {
		var f domain.Filing
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decode filing: %w", err)
		}
		snapshot.Filings[f.ID] = f
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT entity, entity_id, transaction_id, business_id, action, payload FROM versions ORDER BY transaction_id, entity, entity_id`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select versions: %w", err)
	}
	for rows.Next() {
		var (
			v       domain.Version
			entity  string
			action  string
			payload []byte
		)
		if err := rows.Scan(&entity, &v.EntityID, &v.TransactionID, &v.BusinessID, &action, &payload); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan version: %w", err)
		}
		v.Entity = domain.EntityType(entity)
		v.Action = domain.Action(action)
		if len(payload) > 0 {
			v.Data = append(json.RawMessage(nil), payload...)
		}
		snapshot.Versions = append(snapshot.Versions, v)
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate versions: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT entity, value FROM sequences`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select sequences: %w", err)
	}
	for rows.Next() {
		var (
			entity string
			value  int64
		)
		if err := rows.Scan(&entity, &value); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan sequence: %w", err)
		}
		snapshot.Sequences[domain.EntityType(entity)] = value
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate sequences: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM transactions`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select last transaction: %w", err)
	}
	if rows.Next() {
		if err := rows.Scan(&snapshot.LastTransactionID); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan last transaction: %w", err)
		}
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func scanPayloads(ctx context.Context, db Querier, query string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query %q: %w", query, err)
	}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan payload: %w", err)
		}
		if err := fn(payload); err != nil {
			_ = rows.Close()
			return err
		}
	}
	return closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	closeErr := rows.Close()
	if iterErr != nil {
		return iterErr
	}
	return closeErr
}

// Persist wraps WriteCommit in its own database transaction.
func Persist(ctx context.Context, db *sql.DB, d Dialect, c memory.Commit) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := WriteCommit(ctx, tx, d, c); err != nil {
		return &domain.PersistenceError{Op: "write commit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}
