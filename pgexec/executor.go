// Package pgexec defines the contract shared by the connection pool and
// every decorator that wraps it (Spy, Impatient, Retry, Stash). Every
// component in the chain implements Executor, which is what lets the
// chain be stacked in any order.
package pgexec

import "context"

// Value is a single column value. In text mode it is always a string; in
// binary mode it is the raw wire bytes for the column.
type Value any

// Row is one record keyed by column name.
type Row map[string]Value

// Rows is the eager result of Exec: every row returned by the statement.
type Rows []Row

// Result format requested from the server for a statement. Stash and the
// classifier never interpret the bytes themselves, they only pass the
// format through and store it alongside a cached entry for replay.
const (
	FormatText   = 0
	FormatBinary = 1
)

// TxFunc is invoked by Transaction with a handle scoped to the checked-out
// connection. Returning a non-nil error rolls the transaction back;
// returning nil commits it.
type TxFunc func(ctx context.Context, tx Executor) (any, error)

// Executor is the uniform shape implemented by Pool and every decorator.
// A transaction handle is the same interface, restricted in practice to
// Exec, so that spying, timing out and caching apply uniformly whether a
// statement runs standalone or inside a transaction.
type Executor interface {
	// Version returns the server's advertised version, e.g. "16.2".
	Version(ctx context.Context) (string, error)

	// Exec runs sql (a single statement, or fragments to be joined with
	// spaces) with the given positional parameters and result format,
	// and returns every row eagerly.
	Exec(ctx context.Context, sql SQL, args []any, format int) (Rows, error)

	// Transaction checks out a connection, starts a transaction, invokes
	// fn with a transaction-scoped Executor, and commits or rolls back
	// depending on whether fn returns an error.
	Transaction(ctx context.Context, fn TxFunc) (any, error)

	// Dump returns a human-readable multi-line snapshot of internal state.
	Dump(ctx context.Context) (string, error)
}

// Starter is implemented only by the outermost pool-like component; every
// decorator passes Start through to its inner Executor without needing to
// implement it itself.
type Starter interface {
	Start(ctx context.Context, n int) error
}

// SQL is either a single statement or fragments to be canonicalized by
// joining them with single spaces.
type SQL interface{}

// JoinSQL canonicalizes sql into one statement: a []string is joined with
// single spaces, a string passes through unchanged.
func JoinSQL(sql SQL) string {
	switch v := sql.(type) {
	case string:
		return v
	case []string:
		out := ""
		for i, frag := range v {
			if i > 0 {
				out += " "
			}
			out += frag
		}
		return out
	default:
		return ""
	}
}
