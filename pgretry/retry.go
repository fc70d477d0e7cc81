// Package pgretry implements the Retry decorator: bounded, backoff-free
// retries for statements classified as read-only. Non-read-only
// statements and everything inside a transaction pass through unchanged,
// since retrying a statement that may have already had partial effect on
// the connection would be unsafe.
package pgretry

import (
	"context"

	"github.com/arcwell/pgstash/internal/classify"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pgmetrics"
)

// DefaultAttempts is used when Retry is constructed with attempts <= 0.
const DefaultAttempts = 3

// Retry wraps an inner pgexec.Executor, retrying a read-only statement
// (as classified by classify.IsSelect) up to Attempts times on any
// failure, with no backoff between attempts.
type Retry struct {
	inner    pgexec.Executor
	metrics  *pgmetrics.Metrics
	Attempts int
}

var _ pgexec.Executor = (*Retry)(nil)

// New wraps inner with a Retry allowed attempts calls in total per
// read-only statement (defaults to DefaultAttempts when attempts <= 0).
// metrics may be nil.
func New(inner pgexec.Executor, attempts int, metrics *pgmetrics.Metrics) *Retry {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Retry{inner: inner, metrics: metrics, Attempts: attempts}
}

func (r *Retry) Version(ctx context.Context) (string, error) {
	return r.inner.Version(ctx)
}

// Exec canonicalizes sql and, if it classifies as read-only, retries on
// failure up to Attempts times with no backoff. Non-read-only statements
// are executed exactly once.
func (r *Retry) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)

	if !classify.IsSelect(stmt) {
		return r.inner.Exec(ctx, stmt, args, format)
	}

	var lastErr error
	for attempt := 0; attempt < r.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt > 0 {
			r.observeRetry("retry")
		}
		rows, err := r.inner.Exec(ctx, stmt, args, format)
		if err == nil {
			return rows, nil
		}
		lastErr = err
	}
	r.observeRetry("exhausted")
	return nil, lastErr
}

// observeRetry increments RetryAttempts by outcome: "retry" for each
// re-execution beyond the first attempt, "exhausted" when every attempt
// failed.
func (r *Retry) observeRetry(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RetryAttempts.WithLabelValues(outcome).Inc()
}

// Transaction is always a pass-through: statements inside a transaction
// are never retried, since partial effects may already be
// on the connection.
func (r *Retry) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	return r.inner.Transaction(ctx, fn)
}

func (r *Retry) Dump(ctx context.Context) (string, error) {
	return r.inner.Dump(ctx)
}

func (r *Retry) Start(ctx context.Context, n int) error {
	if starter, ok := r.inner.(pgexec.Starter); ok {
		return starter.Start(ctx, n)
	}
	return nil
}
