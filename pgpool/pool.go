// Package pgpool implements the connection pool at the bottom of the
// decorator chain: a bounded idle queue of live connections, checkout/
// checkin with reconnect-on-error, and transaction scoping. Pool is the
// innermost pgexec.Executor every decorator eventually delegates to.
package pgpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
	"github.com/arcwell/pgstash/pgmetrics"
	"github.com/lib/pq"
)

// slowThreshold is the boundary between a DEBUG and an INFO log line for
// a successful exec.
const slowThreshold = 1 * time.Second

// Pool is a fixed-size bounded collection of live connections. It
// serializes checkout/checkin over a buffered channel, reconnects broken
// connections transparently, and runs transactions against exactly one
// checked-out connection.
type Pool struct {
	wire    Wire
	log     pglog.Logger
	metrics *pgmetrics.Metrics

	idle chan *Connection
	size int

	versionMu sync.Mutex
	version   string

	started bool
	mu      sync.Mutex
}

// New constructs a Pool that will draw replacement connections from wire.
// Start must be called before Exec or Transaction.
func New(wire Wire, log pglog.Logger, metrics *pgmetrics.Metrics) *Pool {
	return &Pool{
		wire:    wire,
		log:     log,
		metrics: metrics,
	}
}

var _ pgexec.Executor = (*Pool)(nil)
var _ pgexec.Starter = (*Pool)(nil)

// Start opens exactly n connections and places them in the idle queue.
// Must be called once before Exec/Transaction.
func (p *Pool) Start(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return &pgexec.ConfigError{Field: "Pool", Message: "already started"}
	}
	if n <= 0 {
		return &pgexec.ConfigError{Field: "n", Message: "must be greater than 0"}
	}

	p.idle = make(chan *Connection, n)
	p.size = n

	for i := 0; i < n; i++ {
		conn, err := p.wire.Connection(ctx)
		if err != nil {
			return err
		}
		p.idle <- conn
	}
	p.started = true
	return nil
}

// Version returns the server's advertised version (the first
// whitespace-delimited token of `SHOW server_version`), memoized after
// the first successful call.
func (p *Pool) Version(ctx context.Context) (string, error) {
	p.versionMu.Lock()
	if p.version != "" {
		v := p.version
		p.versionMu.Unlock()
		return v, nil
	}
	p.versionMu.Unlock()

	rows, err := p.Exec(ctx, "SHOW server_version", nil, pgexec.FormatText)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", &pgexec.QueryError{SQL: "SHOW server_version", Err: errors.New("no rows returned")}
	}
	raw := fmt.Sprintf("%v", rows[0]["server_version"])
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", &pgexec.QueryError{SQL: "SHOW server_version", Err: errors.New("empty version string")}
	}

	p.versionMu.Lock()
	p.version = fields[0]
	p.versionMu.Unlock()
	return fields[0], nil
}

// checkout blocks until a connection is available.
func (p *Pool) checkout(ctx context.Context) (*Connection, error) {
	if p.idle == nil {
		return nil, &pgexec.ConfigError{Field: "Pool", Message: "not started"}
	}

	start := time.Now()
	select {
	case conn := <-p.idle:
		if p.metrics != nil {
			p.metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkin returns a healthy connection to the idle queue, or replaces a
// broken one transparently before returning it. checkin does not consume
// the error: Exec still returns it, wrapped as a ConnectionError or
// QueryError.
func (p *Pool) checkin(ctx context.Context, conn *Connection, execErr error) {
	if isConnError(execErr) {
		p.log.Error("replacing broken connection", execErr, map[string]any{"conn_id": conn.ID.String()})
		_ = conn.Close()
		replacement, err := p.wire.Connection(ctx)
		if err != nil {
			// Nothing we can do but drop a slot; the next checkout will
			// simply block longer. A production deployment would alert on
			// this via the log line above.
			p.log.Error("failed to open replacement connection", err, nil)
			return
		}
		p.idle <- replacement
		return
	}
	p.idle <- conn
}

// Exec canonicalizes sql if it is a fragment list, checks out a
// connection, runs the parameterized statement, and returns all rows
// eagerly. format is not passed to the server: every non-NULL column comes
// back as a text-mode string, for FormatBinary as well as FormatText.
func (p *Pool) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)

	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := execOn(ctx, conn.DB, stmt, args)
	elapsed := time.Since(start)

	p.checkin(ctx, conn, err)

	if err != nil {
		p.log.Error("exec failed", err, map[string]any{"sql": stmt, "args_count": len(args)})
		if p.metrics != nil {
			p.metrics.ObserveExec("error", elapsed)
		}
		return nil, wrapExecError(stmt, len(args), err)
	}

	if elapsed >= slowThreshold {
		p.log.Info("exec completed", map[string]any{"sql": stmt, "elapsed_ms": elapsed.Milliseconds(), "conn_id": conn.ID.String()})
	} else {
		p.log.Debug("exec completed", map[string]any{"sql": stmt, "elapsed_ms": elapsed.Milliseconds(), "conn_id": conn.ID.String()})
	}
	if p.metrics != nil {
		p.metrics.ObserveExec("ok", elapsed)
	}

	return rows, nil
}

// execOn runs stmt against db and materializes every row eagerly.
func execOn(ctx context.Context, db queryer, stmt string, args []any) (pgexec.Rows, error) {
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// queryer is satisfied by *sql.DB and *sql.Tx, letting execOn run
// against either a pooled connection or a transaction handle.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scanRows converts database/sql's *sql.Rows into pgexec.Rows, with every
// column formatted as a string by formatValue. It is the same for every
// requested result format; raw binary wire bytes are never returned.
func scanRows(rows *sql.Rows) (pgexec.Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out pgexec.Rows
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(pgexec.Row, len(cols))
		for i, col := range cols {
			row[col] = formatValue(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// formatValue renders a scanned column value as the text-mode string
// every Executor caller expects. Every successful row carries string
// column values by this same convention.
func formatValue(v any) pgexec.Value {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// wrapExecError classifies err as a ConnectionError or QueryError based
// on isConnError, so callers can use errors.As to branch on kind.
func wrapExecError(stmt string, argc int, err error) error {
	if isConnError(err) {
		return &pgexec.ConnectionError{SQL: stmt, Args: argc, Err: err}
	}
	return &pgexec.QueryError{SQL: stmt, Args: argc, Err: err}
}

// isConnError reports whether err looks like a broken link (I/O failure,
// protocol-level error, bad connection) rather than a server-reported SQL
// failure. lib/pq surfaces driver-level errors as plain errors (not a
// *pq.Error), while a genuine server error always comes back as *pq.Error
// — that distinction is the heuristic used here.
func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return false
	}
	// Anything else from the driver (broken pipe, connection reset, EOF,
	// dial failures) is treated as connection-layer.
	msg := err.Error()
	for _, needle := range []string{"broken pipe", "connection reset", "EOF", "bad connection", "i/o timeout", "connection refused"} {
		if strings.Contains(strings.ToLower(msg), strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

// Transaction checks out a connection, issues START TRANSACTION, invokes
// fn with a transaction-scoped Executor bound to that connection, commits
// on a nil return and rolls back otherwise. A failed rollback discards
// and replaces the connection.
func (p *Pool) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := conn.DB.BeginTx(ctx, nil)
	if err != nil {
		p.checkin(ctx, conn, err)
		return nil, wrapExecError("START TRANSACTION", 0, err)
	}

	txExec := &txExecutor{tx: tx, log: p.log, metrics: p.metrics}

	result, fnErr := fn(ctx, txExec)
	if fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.log.Error("rollback failed, replacing connection", rbErr, map[string]any{"conn_id": conn.ID.String()})
			_ = conn.Close()
			if replacement, err := p.wire.Connection(ctx); err == nil {
				p.idle <- replacement
			} else {
				p.log.Error("failed to open replacement connection", err, nil)
			}
			return nil, fnErr
		}
		p.checkin(ctx, conn, nil)
		return nil, fnErr
	}

	if err := tx.Commit(); err != nil {
		p.checkin(ctx, conn, err)
		return nil, wrapExecError("COMMIT", 0, err)
	}
	p.checkin(ctx, conn, nil)
	return result, nil
}

// Dump returns a human-readable snapshot: server version, idle count, and
// each idle connection's identifier.
func (p *Pool) Dump(ctx context.Context) (string, error) {
	version, err := p.Version(ctx)
	if err != nil {
		version = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "pgpool.Pool: server_version=%s size=%d idle=%d\n", version, p.size, len(p.idle))

	// Drain and refill so Dump is read-only from the caller's perspective.
	var drained []*Connection
	for {
		select {
		case conn := <-p.idle:
			drained = append(drained, conn)
		default:
			goto done
		}
	}
done:
	for _, conn := range drained {
		fmt.Fprintf(&b, "  connection %s\n", conn.ID.String())
		p.idle <- conn
	}
	return b.String(), nil
}

// txExecutor is the pgexec.Executor bound to exactly one open transaction
// for the lifetime of a Transaction callback. Every statement it runs
// executes on the same connection, so operations issued through it
// execute in program order.
type txExecutor struct {
	tx      *sql.Tx
	log     pglog.Logger
	metrics *pgmetrics.Metrics
}

var _ pgexec.Executor = (*txExecutor)(nil)

func (t *txExecutor) Version(ctx context.Context) (string, error) {
	return "", &pgexec.ConfigError{Field: "Version", Message: "not available inside a transaction"}
}

func (t *txExecutor) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)
	start := time.Now()
	rows, err := execOn(ctx, t.tx, stmt, args)
	elapsed := time.Since(start)
	if err != nil {
		t.log.Error("tx exec failed", err, map[string]any{"sql": stmt, "args_count": len(args)})
		if t.metrics != nil {
			t.metrics.ObserveExec("error", elapsed)
		}
		return nil, wrapExecError(stmt, len(args), err)
	}
	if t.metrics != nil {
		t.metrics.ObserveExec("ok", elapsed)
	}
	return rows, nil
}

func (t *txExecutor) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	return nil, &pgexec.ConfigError{Field: "Transaction", Message: "nested transactions are not supported"}
}

func (t *txExecutor) Dump(ctx context.Context) (string, error) {
	return "pgpool.txExecutor: bound to one open transaction", nil
}
