// Package cacheinfra adapts github.com/viccon/sturdyc's bounded, sharded,
// TTL-based cache into pgcache.CacheService, so any pgcache consumer
// (internal/classify's statement-classification cache today) can swap in
// a real backing store behind one small interface instead of depending on
// sturdyc directly.
package cacheinfra

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the tunables for one sturdyc-backed cache instance.
type Config struct {
	// Capacity is the maximum number of entries the cache retains. Must be
	// greater than 0.
	Capacity int

	// NumShards is the number of internal shards sturdyc spreads entries
	// across. Higher values reduce lock contention at the cost of memory
	// overhead. Must be greater than 0.
	NumShards int

	// TTL is how long an entry is considered fresh after it is stored.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage is the fraction of entries sturdyc evicts, per
	// shard, once that shard is full. Must be between 1 and 100.
	EvictionPercentage int

	// EarlyRefresh enables sturdyc's stampede-avoiding background refresh.
	// Nil disables it.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage, when true, caches a fetch that legitimately
	// found nothing, so a hot not-found key does not repeat its fetch on
	// every lookup within the TTL.
	MissingRecordStorage bool

	// EvictionInterval is how often sturdyc sweeps for expired entries.
	// Zero uses sturdyc's own default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures sturdyc's early refresh: an entry nearing
// expiry is refreshed in the background (async) or, past SyncRefreshTime,
// on the calling goroutine (sync), so a cache stampede never lands on the
// source of truth all at once.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns tunables sized for a small, short-lived
// statement-classification cache rather than a large row cache: modest
// capacity, early refresh enabled, missing-record storage on.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		MissingRecordStorage: true,
	}
}

// ToSturdycOptions translates the subset of Config that sturdyc.New
// doesn't take positionally (Capacity, NumShards, TTL, EvictionPercentage
// do) into sturdyc.Option values.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}
	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate reports the first invalid field, or nil if cfg can be handed to
// NewSturdycService.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if c.EarlyRefresh != nil {
		if c.EarlyRefresh.MinAsyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.MaxAsyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.MaxAsyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.SyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.SyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.RetryBaseDelay < 0 {
			return &ConfigError{Field: "EarlyRefresh.RetryBaseDelay", Message: "must be non-negative"}
		}
	}
	return nil
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// sturdycService wraps a sturdyc.Client[any] behind pgcache.CacheService.
type sturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and constructs a sturdyc-backed
// CacheService. Capacity, NumShards, TTL and EvictionPercentage go
// straight to sturdyc.New; everything else flows through
// Config.ToSturdycOptions.
func NewSturdycService(cfg Config) (*sturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &sturdycService{client: client}, nil
}

// validateFetchFn checks that fetchFn has the shape pgcache.FetchFn[T]
// erases to once boxed as any: func(context.Context) (T, error). sturdyc's
// own client is generic over exactly one type parameter (any, here), so a
// caller's concrete T must be unwrapped through reflection instead.
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}

	fnValue := reflect.ValueOf(fetchFn)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return &ConfigError{Field: "fetchFn", Message: "must be a function"}
	}
	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return &ConfigError{Field: "fetchFn", Message: "must have signature func(context.Context) (T, error)"}
	}

	contextType := reflect.TypeOf((*context.Context)(nil)).Elem()
	if !fnType.In(0).Implements(contextType) {
		return &ConfigError{Field: "fetchFn", Message: "first parameter must be context.Context"}
	}
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if !fnType.Out(1).Implements(errorType) {
		return &ConfigError{Field: "fetchFn", Message: "second return value must be error"}
	}
	return nil
}

// GetOrFetch implements pgcache.CacheService.GetOrFetch: a cache hit on key
// returns the stored value; a miss calls fetchFn, stores its result, and
// returns that instead.
func (s *sturdycService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	typedFetchFn := func(ctx context.Context) (any, error) {
		return callFetchFunctionWithReflection(ctx, fetchFn)
	}
	return s.client.GetOrFetch(ctx, key, typedFetchFn)
}

// callFetchFunctionWithReflection invokes fetchFn (already validated by
// validateFetchFn) and unboxes its two return values. The direct type
// assertion covers the common any-typed case without paying reflection's
// cost; anything else falls back to reflect.Value.Call.
func callFetchFunctionWithReflection(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}

	fnValue := reflect.ValueOf(fetchFn)
	results := fnValue.Call([]reflect.Value{reflect.ValueOf(ctx)})

	var result any
	if results[0].IsValid() && results[0].CanInterface() {
		result = results[0].Interface()
	}

	var err error
	if results[1].IsValid() && !results[1].IsNil() {
		err = results[1].Interface().(error)
	}
	return result, err
}

// Delete implements pgcache.CacheService.Delete: removes key so the next
// GetOrFetch on it misses.
func (s *sturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every cached key with the given prefix. Not part
// of pgcache.CacheService; callers that know they own a whole key
// namespace (rather than one key) can use this directly against the
// concrete service.
func (s *sturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes every key in keys in one call. Not part of
// pgcache.CacheService.
func (s *sturdycService) InvalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}
