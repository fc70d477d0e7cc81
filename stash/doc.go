// Package stash implements the Stash decorator: a table-invalidated,
// parameter-keyed result cache that wraps any pgexec.Executor; pkg/di
// places it outermost in the decorator chain, above Retry. A write statement marks every cached read that
// touched one of its affected tables as stale; a read statement serves a
// cached, non-stale result by reference, or executes and populates the
// cache on a miss. Three independent background tasks — cap, retirement,
// and refill — run on a worker pool shared by every Stash instance that
// shares the same underlying cache data, including the fresh Stash
// yielded inside a transaction.
//
// The write-then-mark-stale structure and the background sweep/refill
// split are adapted from this module's own prior generic repository-cache
// decorator, narrowed from an arbitrary Repository[T] invalidation scheme
// down to the table-name invalidation a raw SQL statement actually
// implies.
package stash
