// Package sqltest is a fake database/sql/driver backing pgpool.Wire for
// unit tests: every Backend is a standalone simulated server reachable
// through a registered driver.Driver, so pgpool.Pool's checkout/checkin,
// reconnect-on-error, and transaction logic run against real *sql.DB/*sql.Tx
// plumbing without opening a socket.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/arcwell/pgstash/pgpool"
)

const driverName = "pgstash_sqltest"

var (
	registryMu sync.Mutex
	registry   = map[string]*Backend{}
	nextID     int64
)

func init() {
	sql.Register(driverName, fakeDriver{})
}

func registerBackend(b *Backend) string {
	registryMu.Lock()
	defer registryMu.Unlock()
	nextID++
	name := fmt.Sprintf("backend-%d", nextID)
	registry[name] = b
	return name
}

func lookupBackend(name string) *Backend {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[name]
}

// Result is what a Handler returns for one query: a column list and the
// rows to synthesize, in driver.Value form.
type Result struct {
	Columns []string
	Rows    [][]driver.Value
}

// Handler computes a Backend's response to one query or exec.
type Handler func(query string, args []driver.Value) (Result, error)

// Backend simulates one server: a Handler that answers every query, plus
// counters a test can assert against after exercising a Pool built on top
// of it.
type Backend struct {
	mu         sync.Mutex
	handler    Handler
	openErr    error
	committed  int
	rolledBack int
	closed     int
	name       string
}

// NewBackend registers and returns a Backend whose queries are answered by
// handler.
func NewBackend(handler Handler) *Backend {
	b := &Backend{handler: handler}
	b.name = registerBackend(b)
	return b
}

// FailOpen makes every future open attempt against b fail with err.
func (b *Backend) FailOpen(err error) *Backend {
	b.mu.Lock()
	b.openErr = err
	b.mu.Unlock()
	return b
}

// Committed returns how many transactions opened against b have committed.
func (b *Backend) Committed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// RolledBack returns how many transactions opened against b have rolled
// back.
func (b *Backend) RolledBack() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rolledBack
}

// Closed returns how many connections opened against b have been closed.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) open() (*pgpool.Connection, error) {
	b.mu.Lock()
	err := b.openErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, b.name)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &pgpool.Connection{ID: uuid.New(), DB: db}, nil
}

func (b *Backend) run(query string, args []driver.NamedValue) (Result, error) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return Result{}, nil
	}
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return h(query, vals)
}

// Wire round-robins pgpool.Connection requests across a fixed list of
// Backends, the way a real connection source picks among several reachable
// hosts.
type Wire struct {
	mu       sync.Mutex
	backends []*Backend
	next     int
}

// NewWire returns a Wire that hands out connections to backends in order,
// wrapping back to the first once exhausted.
func NewWire(backends ...*Backend) *Wire {
	return &Wire{backends: backends}
}

func (w *Wire) Connection(ctx context.Context) (*pgpool.Connection, error) {
	w.mu.Lock()
	if len(w.backends) == 0 {
		w.mu.Unlock()
		return nil, errors.New("sqltest: no backends configured")
	}
	b := w.backends[w.next%len(w.backends)]
	w.next++
	w.mu.Unlock()
	return b.open()
}

var _ pgpool.Wire = (*Wire)(nil)

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	b := lookupBackend(name)
	if b == nil {
		return nil, fmt.Errorf("sqltest: unknown backend %q", name)
	}
	return &fakeConn{backend: b}, nil
}

type fakeConn struct {
	backend *Backend
}

var (
	_ driver.Conn           = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
)

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("sqltest: prepared statements are not supported")
}

func (c *fakeConn) Close() error {
	c.backend.mu.Lock()
	c.backend.closed++
	c.backend.mu.Unlock()
	return nil
}

// Begin satisfies the legacy driver.Conn transaction path; database/sql
// falls back to it from BeginTx when the driver implements no
// driver.ConnBeginTx, which is all pgpool.Pool.Transaction ever requests
// (it always passes nil *sql.TxOptions).
func (c *fakeConn) Begin() (driver.Tx, error) {
	return &fakeTx{backend: c.backend}, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res, err := c.backend.run(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{cols: res.Columns, rows: res.Rows}, nil
}

type fakeTx struct {
	backend *Backend
}

func (t *fakeTx) Commit() error {
	t.backend.mu.Lock()
	t.backend.committed++
	t.backend.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.backend.mu.Lock()
	t.backend.rolledBack++
	t.backend.mu.Unlock()
	return nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}
