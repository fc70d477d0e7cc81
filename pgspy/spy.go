// Package pgspy implements the pass-through Spy decorator: it measures
// wall-clock time around every Exec and reports (canonical_sql, elapsed)
// to a caller-supplied observer after the inner call succeeds.
package pgspy

import (
	"context"
	"time"

	"github.com/arcwell/pgstash/pgexec"
)

// Observer is invoked once per successful Exec with the canonical SQL and
// the elapsed wall time of the inner call.
type Observer func(sql string, elapsed time.Duration)

// Spy wraps an inner pgexec.Executor, timing every Exec and forwarding
// the observation to Callback. It never transforms results or errors.
type Spy struct {
	inner    pgexec.Executor
	Callback Observer
}

var _ pgexec.Executor = (*Spy)(nil)

// New wraps inner with a Spy that reports every successful Exec to cb.
func New(inner pgexec.Executor, cb Observer) *Spy {
	return &Spy{inner: inner, Callback: cb}
}

// Version delegates unchanged.
func (s *Spy) Version(ctx context.Context) (string, error) {
	return s.inner.Version(ctx)
}

// Exec times the delegate call and, on success, invokes Callback with the
// canonical SQL and elapsed time. On failure the callback is not invoked.
func (s *Spy) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)
	start := time.Now()
	rows, err := s.inner.Exec(ctx, stmt, args, format)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	if s.Callback != nil {
		s.Callback(stmt, elapsed)
	}
	return rows, nil
}

// Transaction delegates to the inner executor and wraps the yielded
// transaction handle in a fresh Spy sharing the same Callback, so
// per-statement observation continues for statements issued inside the
// transaction.
func (s *Spy) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	return s.inner.Transaction(ctx, func(ctx context.Context, tx pgexec.Executor) (any, error) {
		return fn(ctx, New(tx, s.Callback))
	})
}

// Dump delegates unchanged.
func (s *Spy) Dump(ctx context.Context) (string, error) {
	return s.inner.Dump(ctx)
}

// Start passes through to the inner executor when it implements
// pgexec.Starter (i.e. it is the outermost Pool).
func (s *Spy) Start(ctx context.Context, n int) error {
	if starter, ok := s.inner.(pgexec.Starter); ok {
		return starter.Start(ctx, n)
	}
	return nil
}
