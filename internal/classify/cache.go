package classify

import (
	"context"
	"time"

	"github.com/arcwell/pgstash/pgcache"
)

// Classification bundles every regex-derived fact about one canonical SQL
// statement. Retry only needs IsRead; Stash needs all four fields. Bundling
// them means a hot statement's classification is computed once per cache
// TTL instead of once per field per call.
type Classification struct {
	IsRead          bool
	IsWrite         bool
	AffectedTables  []string
	ReadTables      []string
	ContainsNowCall bool
}

// compute computes a Classification by running every regex rule once.
func compute(p string) Classification {
	return Classification{
		IsRead:          IsSelect(p),
		IsWrite:         IsModifier(p),
		AffectedTables:  AffectedTables(p),
		ReadTables:      ReadTables(p),
		ContainsNowCall: ContainsNow(p),
	}
}

// Cache memoizes Classification by canonical SQL text. Backed by the
// sturdyc adapter in internal/cacheinfra (exposed through the cache
// package's CacheService interface) so hot statements avoid re-running
// five regexes on every Exec call.
type Cache struct {
	svc pgcache.CacheService
}

// NewCache wires a classification cache on top of the provided
// pgcache.CacheService. Passing a nil service makes Classify fall back to
// computing directly, which keeps the zero value usable in tests.
func NewCache(svc pgcache.CacheService) *Cache {
	return &Cache{svc: svc}
}

// DefaultCacheConfig returns sensible defaults for a classification cache:
// small, short TTL, no early refresh — classification is cheap to
// recompute, the cache only exists to avoid the regex cost on very hot
// statements within the same short window.
func DefaultCacheConfig() pgcache.Config {
	cfg := pgcache.DefaultConfig()
	cfg.Capacity = 2048
	cfg.NumShards = 32
	cfg.TTL = 30 * time.Second
	cfg.EarlyRefresh = nil
	cfg.MissingRecordStorage = false
	return cfg
}

// Classify returns the Classification for canonical SQL p, computing and
// memoizing it on a miss.
func (c *Cache) Classify(ctx context.Context, p string) Classification {
	if c == nil || c.svc == nil {
		return compute(p)
	}

	result, err := pgcache.GetOrFetch(ctx, c.svc, "classify::"+p, func(context.Context) (Classification, error) {
		return compute(p), nil
	})
	if err != nil {
		// The fetch function above never returns an error; fall back to a
		// direct computation rather than propagate a cache-layer failure
		// into query classification.
		return compute(p)
	}
	return result
}
