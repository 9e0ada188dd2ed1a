// Package testutil fakes the Postgres side of the entity store for tests.
//
// The fake understands just the statements sqlrows issues: DDL is recorded,
// INSERTs land in per-table rows (ON CONFLICT upserts on the named key) and
// SELECTs project those rows back by column. Writes made inside a database
// transaction are buffered until Commit so a failed commit leaves nothing
// behind.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Failure points understood by Conn.Fail.
const (
	FailPing   = "ping"
	FailBegin  = "begin"
	FailCommit = "commit"
)

type row map[string]driver.Value

type table struct {
	rows []row
}

func (t *table) upsert(key string, r row) {
	if key != "" {
		for i, existing := range t.rows {
			if existing[key] == r[key] {
				t.rows[i] = r
				return
			}
		}
	}
	t.rows = append(t.rows, r)
}

type write struct {
	table string
	key   string
	row   row
}

// Conn is a single shared connection standing in for a Postgres server.
type Conn struct {
	// Statements holds every statement executed, in order.
	Statements []string
	// Fail maps a failure point or a table name to the error it returns.
	Fail map[string]error

	Commits   int
	Rollbacks int

	tables  map[string]*table
	pending []write
	inTx    bool
}

// Open returns a sql.DB whose connections all resolve to the returned Conn.
func Open() (*sql.DB, *Conn) {
	conn := &Conn{tables: make(map[string]*table)}
	return sql.OpenDB(connector{conn: conn}), conn
}

// Rows returns a copy of the committed rows of name.
func (c *Conn) Rows(name string) []map[string]any {
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(t.rows))
	for _, r := range t.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (c *Conn) failure(point string) error {
	if err, ok := c.Fail[point]; ok {
		if err == nil {
			err = fmt.Errorf("%s failed", point)
		}
		return err
	}
	return nil
}

type connector struct {
	conn *Conn
}

func (k connector) Connect(context.Context) (driver.Conn, error) { return k.conn, nil }

func (k connector) Driver() driver.Driver { return fakeDriver{conn: k.conn} }

type fakeDriver struct {
	conn *Conn
}

func (d fakeDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Every statement goes through the context
// fast paths instead.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare unsupported: %s", query)
}

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.failure(FailBegin); err != nil {
		return nil, err
	}
	if c.inTx {
		return nil, errors.New("nested transaction")
	}
	c.inTx = true
	c.pending = nil
	return fakeTx{conn: c}, nil
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(context.Context) error {
	return c.failure(FailPing)
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Statements = append(c.Statements, query)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	name, cols, err := insertTarget(query)
	if err != nil {
		return nil, err
	}
	if err := c.failure(name); err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("%s: %d columns but %d arguments", name, len(cols), len(args))
	}
	r := make(row, len(cols))
	for i, col := range cols {
		r[col] = args[i].Value
	}
	w := write{table: name, key: conflictKey(query), row: r}
	if c.inTx {
		c.pending = append(c.pending, w)
	} else {
		c.apply(w)
	}
	return driver.RowsAffected(1), nil
}

func (c *Conn) apply(w write) {
	t, ok := c.tables[w.table]
	if !ok {
		t = &table{}
		c.tables[w.table] = t
	}
	t.upsert(w.key, w.row)
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	name, cols, err := selectTarget(query)
	if err != nil {
		return nil, err
	}
	if err := c.failure(name); err != nil {
		return nil, err
	}
	var stored []row
	if t, ok := c.tables[name]; ok {
		stored = t.rows
	}
	if len(cols) == 1 && strings.Contains(cols[0], "max(id)") {
		var highest int64
		for _, r := range stored {
			if id, ok := r["id"].(int64); ok && id > highest {
				highest = id
			}
		}
		return &fakeRows{cols: []string{"max"}, values: [][]driver.Value{{highest}}}, nil
	}
	values := make([][]driver.Value, 0, len(stored))
	for _, r := range stored {
		projected := make([]driver.Value, len(cols))
		for i, col := range cols {
			projected[i] = r[col]
		}
		values = append(values, projected)
	}
	return &fakeRows{cols: cols, values: values}, nil
}

type fakeTx struct {
	conn *Conn
}

func (t fakeTx) Commit() error {
	c := t.conn
	pending := c.pending
	c.pending, c.inTx = nil, false
	if err := c.failure(FailCommit); err != nil {
		return err
	}
	for _, w := range pending {
		c.apply(w)
	}
	c.Commits++
	return nil
}

func (t fakeTx) Rollback() error {
	t.conn.pending, t.conn.inTx = nil, false
	t.conn.Rollbacks++
	return nil
}

type fakeRows struct {
	cols   []string
	values [][]driver.Value
	next   int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}

// insertTarget reads "INSERT INTO name(a, b) ..." into name and columns.
func insertTarget(query string) (string, []string, error) {
	upper := strings.ToUpper(query)
	at := strings.Index(upper, "INTO ")
	if at < 0 {
		return "", nil, fmt.Errorf("unrecognised insert: %s", query)
	}
	rest := query[at+len("INTO "):]
	open, closing := strings.Index(rest, "("), strings.Index(rest, ")")
	if open < 0 || closing < open {
		return "", nil, fmt.Errorf("unrecognised insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), columns(rest[open+1 : closing]), nil
}

// conflictKey returns the column named by "ON CONFLICT(col)", if any.
func conflictKey(query string) string {
	upper := strings.ToUpper(query)
	at := strings.Index(upper, "ON CONFLICT(")
	if at < 0 {
		return ""
	}
	rest := query[at+len("ON CONFLICT("):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(rest[:end]))
}

// selectTarget reads "SELECT a, b FROM name ..." into name and columns.
func selectTarget(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return "", nil, fmt.Errorf("unrecognised select: %s", query)
	}
	from := strings.LastIndex(lower, " from ")
	if from < 0 {
		return "", nil, fmt.Errorf("unrecognised select: %s", query)
	}
	tail := strings.Fields(lower[from+len(" from "):])
	if len(tail) == 0 {
		return "", nil, fmt.Errorf("unrecognised select: %s", query)
	}
	head := lower[len("select "):from]
	if strings.Contains(head, "max(id)") {
		return tail[0], []string{strings.TrimSpace(head)}, nil
	}
	return tail[0], columns(head), nil
}

func columns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
