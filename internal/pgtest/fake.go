// Package pgtest provides a scriptable, in-memory pgexec.Executor used to
// drive decorator tests (pgspy, pgimpatient, pgretry, stash) without a
// real PostgreSQL connection, preferring fast, deterministic unit tests
// with a build-tagged integration suite reserved for the real driver.
package pgtest

import (
	"context"
	"sync"
	"time"

	"github.com/arcwell/pgstash/pgexec"
)

// Call records one invocation of Exec against a FakeExecutor.
type Call struct {
	SQL    string
	Args   []any
	Format int
}

// Response is what FakeExecutor.Exec returns for one call. Delay, if
// nonzero, is slept (respecting ctx cancellation) before returning, which
// lets tests exercise Impatient's deadline behavior.
type Response struct {
	Rows  pgexec.Rows
	Err   error
	Delay time.Duration
}

// FakeExecutor is a pgexec.Executor whose Exec responses are scripted in
// advance via Enqueue, or computed on the fly via Handler. It is safe for
// concurrent use.
type FakeExecutor struct {
	mu       sync.Mutex
	queue    []Response
	Handler  func(sql string, args []any, format int) Response
	Calls    []Call
	version  string
	dump     string
	OnTxFail func()
}

var _ pgexec.Executor = (*FakeExecutor)(nil)

// New returns a FakeExecutor reporting version as its Version() ("16.2"
// when version is empty) and a fixed "faketest.FakeExecutor" as its Dump()
// output.
func New(version string) *FakeExecutor {
	if version == "" {
		version = "16.2"
	}
	return &FakeExecutor{version: version, dump: "faketest.FakeExecutor"}
}

// Enqueue appends a scripted response, consumed FIFO by successive Exec
// calls; a queued response takes precedence over Handler, which is only
// consulted once the queue is empty.
func (f *FakeExecutor) Enqueue(r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, r)
}

// CallCount returns the number of Exec calls observed so far.
func (f *FakeExecutor) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *FakeExecutor) Version(ctx context.Context) (string, error) {
	return f.version, nil
}

func (f *FakeExecutor) Exec(ctx context.Context, sql pgexec.SQL, args []any, format int) (pgexec.Rows, error) {
	stmt := pgexec.JoinSQL(sql)

	f.mu.Lock()
	f.Calls = append(f.Calls, Call{SQL: stmt, Args: args, Format: format})
	var resp Response
	haveScripted := false
	if len(f.queue) > 0 {
		resp = f.queue[0]
		f.queue = f.queue[1:]
		haveScripted = true
	}
	handler := f.Handler
	f.mu.Unlock()

	if !haveScripted {
		if handler != nil {
			resp = handler(stmt, args, format)
		}
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return resp.Rows, resp.Err
}

// Transaction runs fn with this same FakeExecutor as the transaction
// handle, since the fake has no real per-connection state to isolate.
func (f *FakeExecutor) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	result, err := fn(ctx, f)
	if err != nil && f.OnTxFail != nil {
		f.OnTxFail()
	}
	return result, err
}

func (f *FakeExecutor) Dump(ctx context.Context) (string, error) {
	return f.dump, nil
}

func (f *FakeExecutor) Start(ctx context.Context, n int) error {
	return nil
}
