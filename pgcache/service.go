package pgcache

import (
	"context"
	"errors"
	"fmt"
)

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService exposes the read-through caching operations a memoized
// lookup needs. It is exported so a consumer (internal/classify today)
// can be handed any backing implementation, not just the
// internal/cacheinfra sturdyc adapter.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Delete(ctx context.Context, key string) error
}

// ErrInvalidResultType is returned by GetOrFetch when service returns a
// value that does not hold a T, signaling a CacheService implementation bug
// since nothing in this package's own call path can produce that mismatch.
var ErrInvalidResultType = errors.New("pgcache: cached value does not match the requested type")

// GetOrFetch is a type-safe wrapper over CacheService.GetOrFetch: service
// stores and returns values as any, so the type parameter is recovered
// here with a checked assertion rather than trusting the backend.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}

	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrInvalidResultType, result)
	}
	return typed, nil
}
