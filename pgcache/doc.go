// Package pgcache provides a generic read-through caching interface
// (CacheService, FetchFn, GetOrFetch) plus ParamsKey, a deterministic hashed
// encoding of a SQL parameter vector. internal/classify uses the generic
// CacheService to memoize regex-derived classification of hot canonical
// SQL statements; the stash package uses ParamsKey as the secondary key
// under each canonical SQL's query-result cache entry.
//
// # Overview
//
//   - CacheService: a generic caching interface for read-through operations
//   - FetchFn/GetOrFetch: a type-safe wrapper that recovers the concrete
//     result type CacheService erases to any
//   - ParamsKey: hashes a SQL parameter vector into a bounded-width string
//
// # Basic usage
//
//	result, err := pgcache.GetOrFetch(ctx, svc, "classify::"+canonicalSQL, func(ctx context.Context) (Classification, error) {
//		return compute(canonicalSQL), nil
//	})
//
// GetOrFetch type-asserts CacheService's any result back to the caller's
// type parameter with a checked assertion, returning ErrInvalidResultType
// on mismatch rather than panicking.
//
// ParamsKey is independent of CacheService: Stash's Exec contract only ever
// passes (string|number|null) positional parameters, so ParamsKey serializes
// that narrow set directly and hashes the result with xxhash rather than
// building a general-purpose cache key.
//
// # See also
//
// For the sturdyc-backed CacheService implementation, see
// internal/cacheinfra. For the cache that consumes it, see
// internal/classify. For the decorator built on top of ParamsKey, see the
// stash package.
package pgcache
