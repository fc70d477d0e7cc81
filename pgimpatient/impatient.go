// Package pgimpatient implements the Impatient decorator: a per-statement
// client-side deadline with exemption patterns, plus server-side
// enforcement via SET LOCAL statement_timeout inside transactions.
package pgimpatient

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/arcwell/pgstash/pgexec"
)

// Impatient aborts any statement exceeding Timeout unless the canonical
// SQL matches one of Exempt. Timeout is honored client-side for
// standalone Exec calls, and mirrored server-side (via SET LOCAL
// statement_timeout) for statements issued inside a transaction, since a
// client-side context cancellation cannot interrupt a blocking statement
// the server has already accepted.
type Impatient struct {
	inner   pgexec.Executor
	Timeout time.Duration
	Exempt  []*regexp.Regexp
}

var _ pgexec.Executor = (*Impatient)(nil)

// New wraps inner with a per-statement deadline of timeout, exempting any
// canonical SQL matching one of the given regexes.
func New(inner pgexec.Executor, timeout time.Duration, exempt []*regexp.Regexp) *Impatient {
	return &Impatient{inner: inner, Timeout: timeout, Exempt: exempt}
}

func (i *Impatient) Version(ctx context.Context) (string, error) {
	return i.inner.Version(ctx)
}

// exempted reports whether canonical SQL p matches any configured
// exemption pattern.
func (i *Impatient) exempted(p string) bool {
	for _, re := range i.Exempt {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// Exec runs the delegate under a local deadline of Timeout unless the
// statement is exempted. If the surrounding context already carries an
// earlier deadline, that deadline wins and its own error surfaces
// unchanged rather than TooSlowError.
func (i *Impatient) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)

	if i.exempted(stmt) {
		return i.inner.Exec(ctx, stmt, args, format)
	}

	deadline := time.Now().Add(i.Timeout)
	outerFiredFirst := false
	if outer, ok := ctx.Deadline(); ok && outer.Before(deadline) {
		outerFiredFirst = true
	}

	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	rows, err := i.inner.Exec(cctx, stmt, args, format)
	elapsed := time.Since(start)

	if err != nil && cctx.Err() != nil {
		// Our own deadline (or a race with cancellation) fired. If the
		// surrounding context's deadline was strictly earlier, that
		// error must win instead of TooSlowError.
		if outerFiredFirst && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &pgexec.TooSlowError{SQL: stmt, Elapsed: elapsed, Args: len(args)}
	}
	return rows, err
}

// statementTimeoutMillis converts Timeout to the integer millisecond
// value SET LOCAL statement_timeout expects.
func (i *Impatient) statementTimeoutMillis() int64 {
	return i.Timeout.Milliseconds()
}

// Transaction begins a transaction on the inner executor, issues SET
// LOCAL statement_timeout = Timeout in milliseconds so the server enforces
// the deadline for statements the client cannot cancel promptly, and
// yields a fresh Impatient bound to the transaction with the same
// Timeout and Exempt list.
func (i *Impatient) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	return i.inner.Transaction(ctx, func(ctx context.Context, tx pgexec.Executor) (any, error) {
		millis := i.statementTimeoutMillis()
		stmt := "SET LOCAL statement_timeout = " + strconv.FormatInt(millis, 10)
		if _, err := tx.Exec(ctx, stmt, nil, pgexec.FormatText); err != nil {
			return nil, err
		}
		return fn(ctx, New(tx, i.Timeout, i.Exempt))
	})
}

func (i *Impatient) Dump(ctx context.Context) (string, error) {
	return i.inner.Dump(ctx)
}

func (i *Impatient) Start(ctx context.Context, n int) error {
	if starter, ok := i.inner.(pgexec.Starter); ok {
		return starter.Start(ctx, n)
	}
	return nil
}
